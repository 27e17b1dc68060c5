package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	// Version 项目版本
	Version = "0.2.0"
	// AppName 应用名称
	AppName = "NoFail-API"
)

// exitError 携带退出码的错误
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.err)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "nofail",
		Short:         "Completion gateway that fails over between OpenAI-compatible providers",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "YAML config file")

	serve := newServeCommand(&configPath)
	root.AddCommand(serve)
	root.AddCommand(newProbeCommand(&configPath))

	// 不带子命令时启动服务
	root.RunE = serve.RunE
	return root
}
