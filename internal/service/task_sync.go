package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"adflow-gateway/internal/config"
	"adflow-gateway/internal/model"
	"adflow-gateway/internal/task"
	"adflow-gateway/internal/utils"
	"adflow-gateway/pkg/logger"
)

// TaskSyncService 周期拉取任务快照，作为推送通道漏事件时的对账兜底
// 推送事件是主通道，这里只做补种，不承载第二套业务逻辑
type TaskSyncService struct {
	cfg        *config.Config
	registry   *task.Registry
	httpClient *http.Client
	onAuthFail func()
}

func NewTaskSyncService(cfg *config.Config, registry *task.Registry, onAuthFail func()) *TaskSyncService {
	return &TaskSyncService{
		cfg:        cfg,
		registry:   registry,
		httpClient: utils.NewHTTPClient(10 * time.Second),
		onAuthFail: onAuthFail,
	}
}

// Run 启动对账循环：先立即拉一次（挂载补种），之后按配置间隔重复
func (s *TaskSyncService) Run(ctx context.Context) {
	if err := s.FetchSnapshot(ctx); err != nil {
		logger.Warnf("Initial task snapshot fetch failed: %v", err)
	}

	ticker := time.NewTicker(s.cfg.Tasks.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.FetchSnapshot(ctx); err != nil {
				logger.Warnf("Task snapshot fetch failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// FetchSnapshot 拉取一次全量任务状态并入册
func (s *TaskSyncService) FetchSnapshot(ctx context.Context) error {
	snapshotURL := s.cfg.Backend.BaseURL + s.cfg.Backend.SnapshotPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snapshotURL, nil)
	if err != nil {
		return err
	}
	if s.cfg.Backend.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Backend.Token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if s.onAuthFail != nil {
			s.onAuthFail()
		}
		return fmt.Errorf("snapshot endpoint returned 401")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot endpoint returned status %d", resp.StatusCode)
	}

	var tasks []model.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	s.registry.ApplySnapshot(tasks)
	return nil
}
