// 一次性角色迁移脚本
//
// 旧数据中部分用户没有角色字段，旧版本在运行时根据姓名/邮箱猜测角色。
// 现在角色是必填的枚举，此脚本按旧规则为缺失角色的用户补齐一次。
// 运行后这些用户才能登录。
//
// 用法: go run scripts/migrate_roles.go [-dry-run]

package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"store_audit_backend/internal/config"
	"store_audit_backend/internal/model"
	"store_audit_backend/internal/repository"
	"store_audit_backend/pkg/database"
	"store_audit_backend/pkg/logger"

	"gopkg.in/yaml.v3"
)

// scriptConfig 只读取脚本需要的配置项
type scriptConfig struct {
	Server struct {
		Mode string `yaml:"mode"`
	} `yaml:"server"`
	Database struct {
		Driver     string `yaml:"driver"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		User       string `yaml:"user"`
		Password   string `yaml:"password"`
		DBName     string `yaml:"dbname"`
		Charset    string `yaml:"charset"`
		ParseTime  bool   `yaml:"parsetime"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
}

func (s scriptConfig) toConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Mode = s.Server.Mode
	cfg.Database = config.DatabaseConfig{
		Driver:     s.Database.Driver,
		Host:       s.Database.Host,
		Port:       s.Database.Port,
		User:       s.Database.User,
		Password:   s.Database.Password,
		DBName:     s.Database.DBName,
		Charset:    s.Database.Charset,
		ParseTime:  s.Database.ParseTime,
		SQLitePath: s.Database.SQLitePath,
	}
	return cfg
}

// inferLegacyRole 旧版本的子串规则，顺序即优先级
func inferLegacyRole(name, email string) model.UserRole {
	haystack := strings.ToLower(name + " " + email)
	switch {
	case strings.Contains(haystack, "admin"):
		return model.Admin
	case strings.Contains(haystack, "supervisor"):
		return model.Supervisor
	case strings.Contains(haystack, "manager"), strings.Contains(haystack, "gerente"):
		return model.Manager
	default:
		return model.Auditor
	}
}

func main() {
	dryRun := flag.Bool("dry-run", false, "只打印推断结果，不写库")
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	data, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	var sc scriptConfig
	if err := yaml.Unmarshal(data, &sc); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}
	cfg := sc.toConfig()

	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, false)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	repo := repository.NewUserRepository(db)
	users, err := repo.FindWithoutRole()
	if err != nil {
		log.Fatalf("查询用户失败: %v", err)
	}
	log.Printf("共 %d 个用户缺少角色", len(users))

	updated := 0
	for i := range users {
		u := &users[i]
		role := inferLegacyRole(u.Name, u.Email)
		log.Printf("%s <%s> -> %s", u.Name, u.Email, role)
		if *dryRun {
			continue
		}
		u.Role = role
		if err := repo.Update(u); err != nil {
			log.Printf("更新用户 %s 失败: %v", u.ID, err)
			continue
		}
		updated++
	}

	log.Printf("完成！已更新 %d 个用户", updated)
}
