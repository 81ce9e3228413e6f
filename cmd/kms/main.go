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
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configDir   string
	storeDriver string
	storeDSN    string
)

var rootCmd = &cobra.Command{
	Use:   "kms",
	Short: "ats-kms administrative CLI",
	Long: `kms is the operator-facing CLI for the ats-kms Master Secret and VAPID key
manager: enrollment bootstrap, VAPID key lifecycle, lease issuance, and
audit chain inspection, driven through the same Dispatcher the kms-rpcd
daemon serves over a websocket.

Every invocation is its own process: enrollment, wrapped keys, and the
audit log persist in the configured store, but an unlocked Master Secret
and any open leases live only in the Dispatcher that created them. Commands
that need MS/MKEK (vapid, lease issue) take the unlock credential directly
and unlock in the same process as the operation they drive.`,
}

func main() {
	// Best-effort: an operator's local .env carries store DSNs and KMS_ENV
	// outside shell history; its absence in production is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory to load <env>.yaml/default.yaml from")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "override the configured store driver (memory, postgres)")
	rootCmd.PersistentFlags().StringVar(&storeDSN, "dsn", "", "override the configured postgres DSN")

	// Commands are registered in their respective files:
	// - setup.go: setupCmd (passphrase, passkey-prf subcommands)
	// - unlock.go: unlockCmd
	// - vapid.go: vapidCmd (generate, regenerate, list, set-subscription)
	// - lease.go: leaseCmd (issue, verify, revoke)
	// - audit.go: auditCmd (log, verify)
	// - reset.go: resetCmd
}
