package main

import (
	"github.com/mhmdmarshoud34/Talkify/internal/config"
	"github.com/mhmdmarshoud34/Talkify/internal/db"
	clog "github.com/mhmdmarshoud34/Talkify/internal/log"
	"github.com/mhmdmarshoud34/Talkify/internal/presence"
	"github.com/mhmdmarshoud34/Talkify/internal/server"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	pt := presence.NewTable()
	r := server.SetupRouter(cfg, gdb, pt)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
