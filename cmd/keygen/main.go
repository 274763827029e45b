// AngelaMos | 2026
// main.go

package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/carterperez-dev/voiceagent-billing/internal/auth"
)

func main() {
	dir := flag.String("dir", "keys", "directory to write the key pair into")
	flag.Parse()

	if err := os.MkdirAll(*dir, 0o700); err != nil {
		slog.Error("create key directory", "error", err)
		os.Exit(1)
	}

	privatePath := filepath.Join(*dir, "private.pem")
	publicPath := filepath.Join(*dir, "public.pem")

	if err := auth.GenerateKeyPair(privatePath, publicPath); err != nil {
		slog.Error("generate key pair", "error", err)
		os.Exit(1)
	}

	slog.Info("ES256 key pair written",
		"private", privatePath,
		"public", publicPath,
	)
}
