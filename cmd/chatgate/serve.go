package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nimbleslab/chatgate/pkg/server"
	"github.com/nimbleslab/chatgate/pkg/util"
	"github.com/spf13/cobra"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the edge server",
	Run: func(cmd *cobra.Command, args []string) {
		godotenv.Load()

		configPath := serveConfigPath
		if configPath == "" {
			configPath = util.GetEnv("CHATGATE_CONFIG_PATH", "config/chatgate.yaml")
		}

		slog.Info("loading config", "config_path", configPath)
		config, err := server.LoadConfigFile(configPath)
		if err != nil {
			log.Fatal(err)
		}

		s, err := server.New(config)
		if err != nil {
			log.Fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Fatal(s.ListenAndServe(ctx))
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
}
