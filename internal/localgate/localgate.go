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

// Package localgate provides the mastersecret.GateUnwrapper used by the KMS
// entrypoints. The passkey-gate enrollment method depends on a
// server-side pepper custody and retrieval protocol that is out of scope
// (spec.md §9 open question 1); Unsupported is a clearly-failing stand-in
// until that protocol is chosen, so passphrase and passkey-PRF enrollment
// work end to end without it.
package localgate

import "errors"

// ErrGateUnsupported is returned by Unsupported.Unwrap.
var ErrGateUnsupported = errors.New("localgate: passkey-gate server-side pepper custody is not configured")

// Unsupported implements mastersecret.GateUnwrapper by always failing.
type Unsupported struct{}

func (Unsupported) Unwrap(pepperWrapped []byte) ([]byte, error) {
	return nil, ErrGateUnsupported
}
