package cmd

import (
	"context"
	"encoding/json"
	"os"

	coreconfig "github.com/AzielCF/az-inbox/core/config"
	coreDB "github.com/AzielCF/az-inbox/core/database"
	"github.com/AzielCF/az-inbox/pkg/crypto"
	"github.com/AzielCF/az-inbox/tenant/domain"
	tenantRepo "github.com/AzielCF/az-inbox/tenant/repository"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed [file.json]",
	Short: "Load instances, queues, assistants and credentials from a JSON snapshot",
	Args:  cobra.ExactArgs(1),
	Run:   runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(_ *cobra.Command, args []string) {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		logrus.Fatalf("[SEED] read %s: %v", args[0], err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logrus.Fatalf("[SEED] parse %s: %v", args[0], err)
	}

	cfg := coreconfig.Global
	cipher, err := crypto.NewCipher(cfg.App.SecretKey)
	if err != nil {
		logrus.Fatalf("[SEED] credential cipher: %v", err)
	}
	if !cipher.Enabled() && len(snap.Credentials) > 0 {
		logrus.Warn("[SEED] APP_SECRET_KEY is empty, credentials will be stored in plain text")
	}

	db, err := coreDB.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[DATABASE] %v", err)
	}
	defer coreDB.Close(db)

	ctx := context.Background()
	repo := tenantRepo.NewDirectoryGormRepository(db).WithCipher(cipher)
	if err := repo.Init(ctx); err != nil {
		logrus.Fatalf("[MIGRATION] tenant tables: %v", err)
	}
	if err := repo.Seed(ctx, snap); err != nil {
		logrus.Fatalf("[SEED] %v", err)
	}
	logrus.Infof("[SEED] loaded %d instance(s), %d queue(s), %d assistant(s), %d credential set(s)",
		len(snap.Instances), len(snap.Queues), len(snap.Assistants), len(snap.Credentials))
}
