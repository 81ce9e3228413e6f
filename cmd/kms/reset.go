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

	"github.com/spf13/cobra"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy every enrollment, wrapped key, and audit entry in the store",
	Long: `reset wipes the entire KMS instance: every enrollment, every wrapped key,
and the audit log. There is no unwrap path back to a Master Secret once its
enrollments are gone. Pass --force to skip the confirmation prompt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce {
			fmt.Print("This destroys every key and enrollment in the store. Type \"reset\" to confirm: ")
			var confirm string
			if _, err := fmt.Scanln(&confirm); err != nil || confirm != "reset" {
				return fmt.Errorf("aborted")
			}
		}
		d, closeFn, err := buildDispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return runMethod(cmd.Context(), d, "resetKMS", nil)
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
