// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Bootstrap a user's first enrollment and derive their Master Secret",
}

var setupPassphraseCmd = &cobra.Command{
	Use:   "passphrase <userId> <passphrase>",
	Short: "Enroll a passphrase-derived Master Secret",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return runMethod(cmd.Context(), d, "setupPassphrase", map[string]any{
			"userId":     args[0],
			"passphrase": args[1],
		})
	},
}

var setupPasskeyPRFCmd = &cobra.Command{
	Use:   "passkey-prf <userId> <credentialId> <rpId> <prfOutputHex>",
	Short: "Enroll a WebAuthn PRF-derived Master Secret",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		prf, err := hex.DecodeString(args[3])
		if err != nil {
			return fmt.Errorf("prfOutputHex must be hex-encoded: %w", err)
		}
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return runMethod(cmd.Context(), d, "setupPasskeyPRF", map[string]any{
			"userId":       args[0],
			"credentialId": args[1],
			"rpId":         args[2],
			"prfOutput":    prf,
		})
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.AddCommand(setupPassphraseCmd, setupPasskeyPRFCmd)
}
