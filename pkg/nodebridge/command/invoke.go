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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nodebridge/nodebridge/pkg/engine"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

type invokeCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer

	modulePath   string
	moduleSource string
	cacheID      string
	exportName   string
	encodedArgs  string
	rawOutput    bool
}

func newInvokeCommandeer(rootCommandeer *RootCommandeer) *invokeCommandeer {
	commandeer := &invokeCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Invoke a module export once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return commandeer.invoke(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&commandeer.modulePath, "path", "p", "", "Path to the module file")
	cmd.Flags().StringVarP(&commandeer.moduleSource, "source", "s", "", "Inline module source ('-' reads stdin)")
	cmd.Flags().StringVar(&commandeer.cacheID, "cache-id", "", "Cache the compiled module under this identifier")
	cmd.Flags().StringVarP(&commandeer.exportName, "export", "e", "", "Exported function name (default: exports itself)")
	cmd.Flags().StringVarP(&commandeer.encodedArgs, "args", "a", "", "Arguments as a JSON array")
	cmd.Flags().BoolVar(&commandeer.rawOutput, "raw", false, "Print the raw string result instead of JSON")

	commandeer.cmd = cmd

	return commandeer
}

func (ic *invokeCommandeer) invoke(ctx context.Context) error {
	loggerInstance, err := ic.rootCommandeer.createLogger()
	if err != nil {
		return err
	}

	configuration, err := ic.rootCommandeer.createEngineConfiguration()
	if err != nil {
		return err
	}

	engineInstance, err := engine.NewEngine(loggerInstance, configuration)
	if err != nil {
		return errors.Wrap(err, "Failed to create engine")
	}
	defer engineInstance.Close() // nolint: errcheck

	options := &engine.InvokeOptions{
		ExportName: ic.exportName,
	}

	if ic.encodedArgs != "" {
		if err := json.Unmarshal([]byte(ic.encodedArgs), &options.Args); err != nil {
			return errors.Wrap(err, "Arguments must be a JSON array")
		}
	}

	invokeOnce := ic.resolveInvoker()
	if invokeOnce == nil {
		return errors.New("Either --path or --source must be given")
	}

	if ic.rawOutput {
		var result string
		if err := invokeOnce(ctx, engineInstance, options, &result); err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	}

	var result json.RawMessage
	if err := invokeOnce(ctx, engineInstance, options, &result); err != nil {
		return err
	}

	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	fmt.Println(string(result))

	return nil
}

type invokeFunc func(ctx context.Context, engineInstance *engine.Engine, options *engine.InvokeOptions, target interface{}) error

func (ic *invokeCommandeer) resolveInvoker() invokeFunc {
	switch {
	case ic.modulePath != "":
		return func(ctx context.Context, engineInstance *engine.Engine, options *engine.InvokeOptions, target interface{}) error {
			return engineInstance.InvokeFromPath(ctx, ic.modulePath, options, target)
		}

	case ic.moduleSource == "-":
		return func(ctx context.Context, engineInstance *engine.Engine, options *engine.InvokeOptions, target interface{}) error {
			return engineInstance.InvokeFromStream(ctx, io.Reader(os.Stdin), ic.cacheID, options, target)
		}

	case ic.moduleSource != "":
		return func(ctx context.Context, engineInstance *engine.Engine, options *engine.InvokeOptions, target interface{}) error {
			return engineInstance.InvokeFromString(ctx, ic.moduleSource, ic.cacheID, options, target)
		}

	default:
		return nil
	}
}
