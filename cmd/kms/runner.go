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
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sage-x-project/ats-kms/config"
	"github.com/sage-x-project/ats-kms/internal/localgate"
	"github.com/sage-x-project/ats-kms/internal/storeinit"
	"github.com/sage-x-project/ats-kms/rpc"
)

// buildDispatcher loads config (honoring the --store/--dsn overrides) and
// wires a fresh Dispatcher over the resulting store. The caller must Close
// the returned store when done.
func buildDispatcher(ctx context.Context) (*rpc.Dispatcher, func() error, error) {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if storeDriver != "" {
		cfg.Store.Driver = storeDriver
	}
	if storeDSN != "" {
		cfg.Store.DSN = storeDSN
	}

	st, err := storeinit.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	d, err := rpc.NewDispatcher(rpc.Deps{
		Store:        st,
		GateUnwrap:   localgate.Unsupported{},
		InstanceID:   cfg.Instance.ID,
		CodeHash:     cfg.Instance.CodeHash,
		ManifestHash: cfg.Instance.ManifestHash,
		KmsVersion:   1,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to build dispatcher: %w", err)
	}
	return d, st.Close, nil
}

// unlock runs the unlock RPC against d so a command that needs MS/MKEK can
// call it before its real operation, all within the same process.
func unlock(ctx context.Context, d *rpc.Dispatcher, userID, method, passphrase string) error {
	resp := d.Dispatch(ctx, rpc.Request{
		Method: "unlock",
		Params: map[string]any{"userId": userID, "method": method, "passphrase": passphrase},
	})
	if resp.Err != nil {
		return fmt.Errorf("unlock failed: %s: %s", resp.Err.Code, resp.Err.Message)
	}
	return nil
}

// runMethod dispatches method with params, printing the JSON result to
// stdout on success or the error envelope to stderr (and exiting non-zero)
// on failure.
func runMethod(ctx context.Context, d *rpc.Dispatcher, method string, params map[string]any) error {
	resp := d.Dispatch(ctx, rpc.Request{Method: method, Params: params})
	if resp.Err != nil {
		return cliError(method, resp)
	}
	return printJSON(resp.Result)
}

// requestFor builds a bare Request for callers that need the Response
// before deciding what to dispatch next (lease issue chains createLease
// into signJWT using the lease ID from the first response).
func requestFor(method string, params map[string]any) rpc.Request {
	return rpc.Request{Method: method, Params: params}
}

func cliError(method string, resp rpc.Response) error {
	return fmt.Errorf("%s failed: %s: %s", method, resp.Err.Code, resp.Err.Message)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
