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
	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <userId> <passphrase>",
	Short: "Verify a passphrase unlocks the user's Master Secret",
	Long: `unlock exercises the same credential check vapid/lease commands run
internally. Since the resulting unlock context dies with this process, it
is useful mainly to validate a passphrase against the persisted enrollment
without side effects.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return runMethod(cmd.Context(), d, "unlock", map[string]any{
			"userId":     args[0],
			"method":     "passphrase",
			"passphrase": args[1],
		})
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}
