/*
Copyright 2024 The Nodebridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package nodejs builds the Node.js runtime process invocation and bundles the
// default harness script that speaks the wire protocol. The engine itself
// treats the process as a black box; any executable honoring the protocol can
// replace it through Configuration.HarnessPath or a custom StartProcessFunc.
package nodejs

import (
	_ "embed"
	"os"
	"os/exec"
	"sync"

	"github.com/nodebridge/nodebridge/pkg/supervisor"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/samber/lo"
)

//go:embed harness.js
var harnessScript string

// Configuration holds Node.js process settings
type Configuration struct {

	// NodeExecutable is the node binary to launch, "node" resolved from PATH
	// by default
	NodeExecutable string

	// HarnessPath points at a harness script implementing the wire protocol.
	// Empty means the bundled harness, materialized to a temp file on first
	// spawn.
	HarnessPath string

	// ExtraArgs are passed to node before the harness script (e.g.
	// --max-old-space-size=256)
	ExtraArgs []string

	// Env is merged over the parent process environment
	Env map[string]string
}

// NewStartProcessFunc returns a StartProcessFunc launching the Node.js harness
// pointed at the supervisor's dial-back address
func NewStartProcessFunc(parentLogger logger.Logger, configuration *Configuration) supervisor.StartProcessFunc {
	loggerInstance := parentLogger.GetChild("nodejs")

	if configuration == nil {
		configuration = &Configuration{}
	}

	nodeExecutable := configuration.NodeExecutable
	if nodeExecutable == "" {
		nodeExecutable = "node"
	}

	var materializeOnce sync.Once
	var harnessPath string
	var materializeErr error

	return func(address string) (*os.Process, error) {
		materializeOnce.Do(func() {
			harnessPath = configuration.HarnessPath
			if harnessPath == "" {
				harnessPath, materializeErr = materializeHarness()
			}
		})
		if materializeErr != nil {
			return nil, errors.Wrap(materializeErr, "Failed to materialize harness script")
		}

		args := lo.Flatten([][]string{
			configuration.ExtraArgs,
			{harnessPath, "--address", address},
		})

		loggerInstance.DebugWith("Starting Node.js runtime process",
			"executable", nodeExecutable,
			"harness", harnessPath,
			"address", address)

		cmd := exec.Command(nodeExecutable, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if len(configuration.Env) != 0 {
			cmd.Env = append(os.Environ(), lo.MapToSlice(configuration.Env, func(name string, value string) string {
				return name + "=" + value
			})...)
		}

		if err := cmd.Start(); err != nil {
			return nil, errors.Wrapf(err, "Failed to start %s", nodeExecutable)
		}

		return cmd.Process, nil
	}
}

func materializeHarness() (string, error) {
	harnessFile, err := os.CreateTemp("", "nodebridge-harness-*.js")
	if err != nil {
		return "", errors.Wrap(err, "Failed to create harness file")
	}
	defer harnessFile.Close() // nolint: errcheck

	if _, err := harnessFile.WriteString(harnessScript); err != nil {
		return "", errors.Wrap(err, "Failed to write harness file")
	}

	return harnessFile.Name(), nil
}
