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

package rpc

// handlers is the method table Dispatch looks up by name. It is rebuilt on
// every call rather than cached on the struct — the map itself is tiny and
// this keeps Dispatcher's zero value harmless in tests that only need a
// subset of handlers wired.
func (d *Dispatcher) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"isSetup":             d.handleIsSetup,
		"setupPassphrase":     d.handleSetupPassphrase,
		"setupPasskeyPRF":     d.handleSetupPasskeyPRF,
		"setupPasskeyGate":    d.handleSetupPasskeyGate,
		"unlock":              d.handleUnlock,
		"addEnrollment":       d.handleAddEnrollment,
		"removeEnrollment":    d.handleRemoveEnrollment,
		"resetKMS":            d.handleResetKMS,
		"generateVAPID":       d.handleGenerateVAPID,
		"regenerateVAPID":     d.handleRegenerateVAPID,
		"listKeys":            d.handleListKeys,
		"setPushSubscription": d.handleSetPushSubscription,
		"getPushSubscription": d.handleGetPushSubscription,
		"createLease":         d.handleCreateLease,
		"verifyLease":         d.handleVerifyLease,
		"extendLease":         d.handleExtendLease,
		"revokeLease":         d.handleRevokeLease,
		"signJWT":             d.handleSignJWT,
		"getAuditLog":         d.handleGetAuditLog,
		"verifyAuditLog":      d.handleVerifyAuditLog,
	}
}
