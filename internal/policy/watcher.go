package policy

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xela07ax/intervention-gateway/internal/infra"
	"go.uber.org/zap"
)

// debounce - редакторы пишут файл в несколько событий, перечитываем один раз.
const debounce = 200 * time.Millisecond

// WatchDir перечитывает правила при изменениях в каталоге правил. Блокирует до отмены ctx.
func (s *RuleSet) WatchDir(ctx context.Context) error {
	if s.rulesDir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(s.rulesDir); err != nil {
		return err
	}
	s.logger.Info("watching rules dir", zap.String("dir", s.rulesDir))

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isRuleFile(ev.Name) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("rules watcher error", zap.Error(err))
		case <-reload:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("rules reload failed", zap.Error(err))
			}
		}
	}
}

// ListenUpdates - сигнал "refresh" от консоли через Redis Pub/Sub.
func (s *RuleSet) ListenUpdates(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	pubsub := s.rdb.Subscribe(ctx, infra.RedisChanRulesUpdate)
	defer pubsub.Close()

	ch := pubsub.Channel()
	s.logger.Info("rules update listener started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				s.logger.Warn("rules update channel closed")
				return
			}
			s.logger.Info("rules update signal received", zap.String("payload", msg.Payload))
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("rules refresh failed", zap.Error(err))
			}
		}
	}
}
