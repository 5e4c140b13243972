// Package main 播放会话清理工具
// 删除不活跃或超过保留期的会话，由 cron 等外部调度周期执行
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/yunketang/playback-backend/internal/config"
	"github.com/yunketang/playback-backend/internal/database"
	"github.com/yunketang/playback-backend/internal/repository"
	"github.com/yunketang/playback-backend/internal/service"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "", "配置文件路径")
	retention := flag.Duration("retention", 0, "会话保留时长，缺省使用配置值")
	flag.Parse()

	// 加载配置
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库连接
	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer database.Close()

	keep := cfg.Playback.SessionRetention
	if *retention > 0 {
		keep = *retention
	}

	sessionRepo := repository.NewSessionRepository(database.GetDB())
	sessionService := service.NewPlaybackSessionService(sessionRepo, &service.PlaybackSessionConfig{
		Retention: keep,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := sessionService.Cleanup(ctx)
	if err != nil {
		log.Fatalf("清理播放会话失败: %v", err)
	}

	log.Printf("清理完成，删除会话 %d 条（保留时长 %s）", deleted, keep)
}
