package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cdpintercept/internal/metrics"
	"cdpintercept/pkg/api"
	"cdpintercept/pkg/model"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

var (
	runTarget string
	runRules  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to a page and intercept its requests until interrupted",
	Long: `Attach to a page target and intercept every request it makes.

Requests matching a rule are answered, failed or rewritten by that rule;
everything else proceeds untouched. Without a rules file the interceptor
only observes traffic. Pending requests are released on shutdown.`,
	Example: `  cdpintercept run -c config.yaml
  cdpintercept run --devtools http://127.0.0.1:9222 --rules mocks.yaml --target 6A1F...`,
	Args: cobra.NoArgs,
	RunE: runIntercept,
}

func init() {
	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", "target id, defaults to the first page")
	runCmd.Flags().StringVarP(&runRules, "rules", "r", "", "rules file, overrides the rules config key")
	rootCmd.AddCommand(runCmd)
}

func runIntercept(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := api.NewService(log)
	defer func() {
		if err := svc.Close(); err != nil {
			log.Err(err, "关闭服务失败")
		}
	}()

	id, err := svc.StartSession(cfg.SessionConfig())
	if err != nil {
		return err
	}
	target, err := svc.AttachTarget(id, model.TargetID(runTarget))
	if err != nil {
		return err
	}

	filter, err := loadFilter(id, svc)
	if err != nil {
		return err
	}
	if err := svc.EnableInterception(id, target, filter); err != nil {
		return err
	}

	done, err := svc.InterceptionDone(id, target)
	if err != nil {
		return err
	}
	events, err := svc.SubscribeEvents(id)
	if err != nil {
		return err
	}
	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.Err(err, "指标服务异常退出")
			}
		}()
	}
	go m.Consume(ctx, events, func(evt model.Event) {
		log.Debug("拦截事件", "type", string(evt.Type), "method", evt.Method, "url", evt.URL, "status", evt.StatusCode, "error", evt.Error)
	})

	log.Info("开始拦截", "target", string(target))
	return watch(ctx, svc, id, target, done, m, 5*time.Second)
}

// statsSource 运行期间轮询的统计来源
type statsSource interface {
	GetStats(id model.SessionID) (model.Stats, error)
	GetRuleStats(id model.SessionID) (model.EngineStats, error)
}

// watch 定期同步指标，直到收到信号或拦截器结束（浏览器断开）
func watch(ctx context.Context, src statsSource, id model.SessionID, target model.TargetID, done <-chan struct{}, m *metrics.Metrics, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logStats(src, id)
			return nil
		case <-done:
			logStats(src, id)
			return fmt.Errorf("target %s: interception ended, browser connection lost", target)
		case <-ticker.C:
			if rs, err := src.GetRuleStats(id); err == nil {
				m.SetRuleHits(rs)
			}
			if st, err := src.GetStats(id); err == nil {
				m.SetPending(target, st.Pending)
			}
		}
	}
}

func logStats(src statsSource, id model.SessionID) {
	st, _ := src.GetStats(id)
	log.Info("停止拦截", "intercepted", st.Intercepted, "fulfilled", st.Fulfilled, "proceeded", st.Proceeded, "failed", st.Failed)
}

// loadFilter 有规则文件时返回 nil，使用会话加载的规则；否则只观察不干预
func loadFilter(id model.SessionID, svc api.Service) (traffic.Filter, error) {
	path := runRules
	if path == "" {
		path = cfg.Rules
	}
	if path == "" {
		return func(traffic.Handler) traffic.Handler { return traffic.Proceed() }, nil
	}
	rs, err := rulespec.Load(path)
	if err != nil {
		return nil, err
	}
	if err := svc.LoadRules(id, rs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return nil, nil
}
