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

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the tamper-evident audit chain",
}

var auditLogCmd = &cobra.Command{
	Use:   "log",
	Short: "List audit entries since a sequence number",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceSeq, _ := cmd.Flags().GetInt64("since-seq")
		limit, _ := cmd.Flags().GetInt("limit")
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return runMethod(cmd.Context(), d, "getAuditLog", map[string]any{
			"sinceSeq": sinceSeq,
			"limit":    limit,
		})
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <userId> <passphrase>",
	Short: "Walk the chain checking hash linkage and every entry's signature",
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
		return runMethod(cmd.Context(), d, "verifyAuditLog", map[string]any{"userId": args[0]})
	},
}

func init() {
	auditLogCmd.Flags().Int64("since-seq", 0, "only return entries after this sequence number")
	auditLogCmd.Flags().Int("limit", 100, "maximum entries to return")

	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditLogCmd, auditVerifyCmd)
}
