package main

import (
	"encoding/base64"
	"fmt"

	"github.com/nimbleslab/chatgate/pkg/sessioncookie"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate cookie encryption and signing keys",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("encrypt_key: %s\n", base64.StdEncoding.EncodeToString(sessioncookie.GenerateKey(256)))
		fmt.Printf("sign_key: %s\n", base64.StdEncoding.EncodeToString(sessioncookie.GenerateKey(256)))
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
