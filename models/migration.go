package models

import (
	"log"

	"bitbucket.org/mmdatafocus/audits_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&AuditFramework{}, &Standard{}, &MaturityLevel{},
		&Audit{}, &Evaluation{}, &StandardWeight{},
		&AuditScoreRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
