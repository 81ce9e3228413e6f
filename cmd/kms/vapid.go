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

var vapidCmd = &cobra.Command{
	Use:   "vapid",
	Short: "Generate, rotate, and inspect VAPID signing keys",
}

var vapidGenerateCmd = &cobra.Command{
	Use:   "generate <userId> <passphrase>",
	Short: "Wrap a fresh VAPID key under the user's MKEK",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		if err := unlock(cmd.Context(), d, args[0], "passphrase", args[1]); err != nil {
			return err
		}
		return runMethod(cmd.Context(), d, "generateVAPID", map[string]any{"userId": args[0]})
	},
}

var vapidRegenerateCmd = &cobra.Command{
	Use:   "regenerate <userId> <passphrase> <oldKid>",
	Short: "Rotate the VAPID key and invalidate every lease pinned to the old kid",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		if err := unlock(cmd.Context(), d, args[0], "passphrase", args[1]); err != nil {
			return err
		}
		return runMethod(cmd.Context(), d, "regenerateVAPID", map[string]any{
			"userId": args[0],
			"oldKid": args[2],
		})
	},
}

var vapidListCmd = &cobra.Command{
	Use:   "list",
	Short: "List wrapped keys, optionally filtered by purpose",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		purpose, _ := cmd.Flags().GetString("purpose")
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return runMethod(cmd.Context(), d, "listKeys", map[string]any{"purpose": purpose})
	},
}

var vapidSetSubscriptionCmd = &cobra.Command{
	Use:   "set-subscription <kid> <endpoint> <p256dh> <auth>",
	Short: "Attach a browser push subscription to a wrapped VAPID key",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return runMethod(cmd.Context(), d, "setPushSubscription", map[string]any{
			"kid":      args[0],
			"endpoint": args[1],
			"p256dh":   args[2],
			"auth":     args[3],
		})
	},
}

func init() {
	vapidListCmd.Flags().String("purpose", "vapid", "wrapped key purpose to filter by")

	rootCmd.AddCommand(vapidCmd)
	vapidCmd.AddCommand(vapidGenerateCmd, vapidRegenerateCmd, vapidListCmd, vapidSetSubscriptionCmd)
}
