package cmd

import (
	"context"

	coreconfig "github.com/AzielCF/az-inbox/core/config"
	coreDB "github.com/AzielCF/az-inbox/core/database"
	inboxRepo "github.com/AzielCF/az-inbox/inbox/repository"
	tenantRepo "github.com/AzielCF/az-inbox/tenant/repository"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the inbox and tenant tables",
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) {
	db, err := coreDB.NewDatabase(coreconfig.Global)
	if err != nil {
		logrus.Fatalf("[DATABASE] %v", err)
	}
	defer coreDB.Close(db)

	ctx := context.Background()
	if err := inboxRepo.NewMessageGormRepository(db).Init(ctx); err != nil {
		logrus.Fatalf("[MIGRATION] inbox tables: %v", err)
	}
	if err := tenantRepo.NewDirectoryGormRepository(db).Init(ctx); err != nil {
		logrus.Fatalf("[MIGRATION] tenant tables: %v", err)
	}
	logrus.Info("[MIGRATION] schema is up to date")
}
