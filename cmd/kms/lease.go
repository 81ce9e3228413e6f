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
	"time"

	"github.com/spf13/cobra"
)

var leaseCmd = &cobra.Command{
	Use:   "lease",
	Short: "Issue and inspect leased VAPID signing JWTs",
}

var leaseIssueCmd = &cobra.Command{
	Use:   "issue <userId> <passphrase> <aud> <sub>",
	Short: "Unlock, create a lease, and sign one VAPID JWT in a single call",
	Long: `issue composes createLease and signJWT: the ephemeral per-lease signing
key (LAK) only ever exists in the Dispatcher's memory, so a lease and its
first JWT have to be produced in the same process that created them.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, passphrase, aud, sub := args[0], args[1], args[2], args[3]
		ttlHours, _ := cmd.Flags().GetInt("ttl-hours")
		expIn, _ := cmd.Flags().GetDuration("exp-in")
		jti, _ := cmd.Flags().GetString("jti")

		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		if err := unlock(cmd.Context(), d, userID, "passphrase", passphrase); err != nil {
			return err
		}

		leaseResp := d.Dispatch(cmd.Context(), requestFor("createLease", map[string]any{
			"userId":   userID,
			"ttlHours": ttlHours,
		}))
		if leaseResp.Err != nil {
			return cliError("createLease", leaseResp)
		}
		leaseID, _ := leaseResp.Result["leaseId"].(string)

		return runMethod(cmd.Context(), d, "signJWT", map[string]any{
			"leaseId": leaseID,
			"aud":     aud,
			"sub":     sub,
			"exp":     time.Now().Add(expIn).Unix(),
			"jti":     jti,
		})
	},
}

var leaseVerifyCmd = &cobra.Command{
	Use:   "verify <leaseId>",
	Short: "Check whether a lease is still valid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return runMethod(cmd.Context(), d, "verifyLease", map[string]any{"leaseId": args[0]})
	},
}

var leaseRevokeCmd = &cobra.Command{
	Use:   "revoke <userId> <passphrase> <leaseId>",
	Short: "Revoke a lease ahead of its expiry",
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
		return runMethod(cmd.Context(), d, "revokeLease", map[string]any{
			"userId":  args[0],
			"leaseId": args[2],
		})
	},
}

func init() {
	leaseIssueCmd.Flags().Int("ttl-hours", 24, "lease lifetime in hours")
	leaseIssueCmd.Flags().Duration("exp-in", 15*time.Minute, "JWT expiry relative to now")
	leaseIssueCmd.Flags().String("jti", "", "JWT ID (required, must be unique per lease)")
	_ = leaseIssueCmd.MarkFlagRequired("jti")

	rootCmd.AddCommand(leaseCmd)
	leaseCmd.AddCommand(leaseIssueCmd, leaseVerifyCmd, leaseRevokeCmd)
}
