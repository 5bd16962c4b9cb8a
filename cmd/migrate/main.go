package main

import (
	"errors"
	"flag"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"neuroconnect/internal/config"
	"neuroconnect/internal/database"
	"neuroconnect/internal/models"
)

func main() {
	var (
		cfgFile string
		seed    bool
	)
	flag.StringVar(&cfgFile, "config", "", "config file (default is ./config.yml)")
	flag.BoolVar(&seed, "seed", false, "insert demo parties (admin, student, doctor)")
	flag.Parse()

	// 加载配置
	if err := config.SetupViper(cfgFile); err != nil {
		logrus.Fatalf("Failed to read config: %v", err)
	}
	cfg := config.Load()
	log, err := config.InitLogger(cfg)
	if err != nil {
		logrus.Fatalf("Failed to init logger: %v", err)
	}

	// 连接数据库
	db, err := database.Open(cfg.Database, false, log)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Info("Starting database migration...")
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Info("Creating additional indexes...")
	if err := database.EnsureIndexes(db); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	// 历史数据：缺失时长与结束时间
	res, err := database.Backfill(db, cfg.Session.DefaultDurationMinutes)
	if err != nil {
		log.Fatalf("Failed to backfill sessions: %v", err)
	}
	log.WithFields(logrus.Fields{
		"durations": res.Durations,
		"end_times": res.EndTimes,
	}).Info("Session backfill completed")

	if seed {
		log.Info("Seeding default data...")
		if err := seedDefaultData(db, log); err != nil {
			log.Fatalf("Failed to seed data: %v", err)
		}
	}

	log.Info("Migration process completed!")
}

func seedDefaultData(db *gorm.DB, log *logrus.Logger) error {
	parties := []models.User{
		{Username: "admin", Email: "admin@neuroconnect.local", Name: "系统管理员", Role: models.RoleAdmin, Status: models.UserStatusActive},
		{Username: "test_student", Email: "student@neuroconnect.local", Name: "测试学生", Role: models.RoleStudent, Status: models.UserStatusActive},
		{Username: "test_doctor", Email: "doctor@neuroconnect.local", Name: "测试医生", Role: models.RoleDoctor, Status: models.UserStatusActive, Approved: true, Specialization: "心理咨询"},
	}
	for i := range parties {
		var existing models.User
		err := db.Where("username = ?", parties[i].Username).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(&parties[i]).Error; err != nil {
			return err
		}
		log.Infof("Created %s user %s (id=%d)", parties[i].Role, parties[i].Username, parties[i].ID)
	}
	return nil
}
