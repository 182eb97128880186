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

package command

import (
	"os"
	"time"

	"github.com/nodebridge/nodebridge/pkg/connection"
	"github.com/nodebridge/nodebridge/pkg/engine"
	"github.com/nodebridge/nodebridge/pkg/nodejs"
	"github.com/nodebridge/nodebridge/pkg/supervisor"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// RootCommandeer is the root of the nodebridge command-line interface
type RootCommandeer struct {
	cmd            *cobra.Command
	loggerInstance logger.Logger
	verbose        bool
	configPath     string
}

// fileConfiguration is the yaml shape of --config
type fileConfiguration struct {
	NodeExecutable    string            `yaml:"nodeExecutable,omitempty"`
	HarnessPath       string            `yaml:"harnessPath,omitempty"`
	ExtraArgs         []string          `yaml:"extraArgs,omitempty"`
	Env               map[string]string `yaml:"env,omitempty"`
	SocketType        string            `yaml:"socketType,omitempty"`
	Codec             string            `yaml:"codec,omitempty"`
	InvocationTimeout string            `yaml:"invocationTimeout,omitempty"`
	MaxConcurrency    int64             `yaml:"maxConcurrency,omitempty"`
}

// NewRootCommandeer creates the root commandeer
func NewRootCommandeer() *RootCommandeer {
	commandeer := &RootCommandeer{}

	cmd := &cobra.Command{
		Use:           "nodebridge [command]",
		Short:         "Invoke JavaScript modules in a supervised Node.js process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&commandeer.verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().StringVar(&commandeer.configPath, "config", "", "Path to an engine configuration file (yaml)")

	cmd.AddCommand(
		newInvokeCommandeer(commandeer).cmd,
	)

	commandeer.cmd = cmd

	return commandeer
}

// Execute runs the CLI
func (rc *RootCommandeer) Execute() error {
	return rc.cmd.Execute()
}

func (rc *RootCommandeer) createLogger() (logger.Logger, error) {
	if rc.loggerInstance != nil {
		return rc.loggerInstance, nil
	}

	var loggerLevel nucliozap.Level
	if rc.verbose {
		loggerLevel = nucliozap.DebugLevel
	} else {
		loggerLevel = nucliozap.InfoLevel
	}

	loggerInstance, err := nucliozap.NewNuclioZapCmd("nodebridge", loggerLevel, os.Stdout)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create logger")
	}

	rc.loggerInstance = loggerInstance
	return loggerInstance, nil
}

func (rc *RootCommandeer) createEngineConfiguration() (*engine.Configuration, error) {
	configuration := &engine.Configuration{
		NodeJS: &nodejs.Configuration{},
	}

	if rc.configPath == "" {
		return configuration, nil
	}

	configContents, err := os.ReadFile(rc.configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read configuration at %q", rc.configPath)
	}

	fileConfig := fileConfiguration{}
	if err := yaml.Unmarshal(configContents, &fileConfig); err != nil {
		return nil, errors.Wrap(err, "Failed to parse configuration")
	}

	configuration.NodeJS.NodeExecutable = fileConfig.NodeExecutable
	configuration.NodeJS.HarnessPath = fileConfig.HarnessPath
	configuration.NodeJS.ExtraArgs = fileConfig.ExtraArgs
	configuration.NodeJS.Env = fileConfig.Env
	configuration.MaxConcurrency = fileConfig.MaxConcurrency
	configuration.Codec = connection.Codec(fileConfig.Codec)

	switch fileConfig.SocketType {
	case "", "unix":
		configuration.SocketType = supervisor.UnixSocket
	case "tcp":
		configuration.SocketType = supervisor.TCPSocket
	default:
		return nil, errors.Errorf("Unknown socket type %q", fileConfig.SocketType)
	}

	if fileConfig.InvocationTimeout != "" {
		invocationTimeout, err := time.ParseDuration(fileConfig.InvocationTimeout)
		if err != nil {
			return nil, errors.Wrap(err, "Failed to parse invocation timeout")
		}
		configuration.InvocationTimeout = invocationTimeout
	}

	return configuration, nil
}
