package database

import (
	"log"

	"github.com/clinsys/capture-service/config"
	"github.com/clinsys/capture-service/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func InitDB(cfg *config.Config) *gorm.DB {
	dsn := "host=" + cfg.Database.DBHost +
		" user=" + cfg.Database.DBUser +
		" password=" + cfg.Database.DBPassword +
		" dbname=" + cfg.Database.DBName +
		" port=" + cfg.Database.DBPort +
		" sslmode=disable TimeZone=UTC"

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		panic("failed to connect database: " + err.Error())
	}

	err = db.AutoMigrate(
		&models.ProcessingTask{},
		&models.CapturedSession{},
		&models.SessaoLog{},
		&models.OutboxEntry{},
	)
	if err != nil {
		log.Printf("auto migrate failed: %v", err)
	}

	log.Println("Database connected and migrated successfully")
	return db
}
