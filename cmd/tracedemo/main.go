// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-resty/resty/v2"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"spanbridge/pkg/config"
	"spanbridge/pkg/instrument"
	"spanbridge/pkg/log"
	"spanbridge/pkg/metrics"
	"spanbridge/pkg/tracing"
)

const demoAddr = "127.0.0.1:8899"

func main() {
	configPath := flag.String("config", "", "配置文件路径，可选")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			stdlog.Fatalf("加载配置失败: %v", err)
		}
		cfg = loaded
	}

	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		stdlog.Fatalf("初始化日志失败: %v", err)
	}

	if cfg.Tracing.Enable {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ExportEndpoint: cfg.Tracing.ExportEndpoint,
			Protocol:       cfg.Tracing.Protocol,
			Insecure:       cfg.Tracing.Insecure,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		if err != nil {
			stdlog.Fatalf("初始化 tracer 失败: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := tracing.Shutdown(ctx, tp); err != nil {
				logger.Warn("关闭 tracer 失败", "err", err)
			}
		}()
	} else {
		// 无导出端点时仍然建 provider，便于观察本地行为
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// 本地 hertz 回环服务，作为被调用方
	hlog.SetLogger(hertzslog.NewLogger())
	h := server.Default(server.WithHostPorts(demoAddr))
	h.GET("/ok", func(_ context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})
	h.GET("/hop/:n", func(_ context.Context, ctx *app.RequestContext) {
		n, _ := strconv.Atoi(ctx.Param("n"))
		if n <= 0 {
			ctx.JSON(consts.StatusOK, utils.H{"done": true})
			return
		}
		ctx.Redirect(consts.StatusFound, []byte(fmt.Sprintf("/hop/%d", n-1)))
	})
	h.GET("/boom", func(_ context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"status": "boom"})
	})
	go h.Spin()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	}()
	waitReady(logger)

	in, err := instrument.Setup(instrument.FromConfig(cfg, logger))
	if err != nil {
		stdlog.Fatalf("装配插桩失败: %v", err)
	}
	defer in.Close()

	base := "http://" + demoAddr
	client := in.Client(&http.Client{Timeout: 10 * time.Second})

	// 阻塞式：10 跳重定向折叠为一个 span
	if resp, err := client.Get(base + "/hop/10"); err != nil {
		logger.Error("重定向链调用失败", "err", err)
	} else {
		resp.Body.Close()
		logger.Info("重定向链调用完成", "status", resp.StatusCode)
	}

	// 阻塞式：query 脱敏
	if resp, err := client.Get(base + "/ok?token=secret&page=1"); err != nil {
		logger.Error("调用失败", "err", err)
	} else {
		resp.Body.Close()
	}

	// 阻塞式：服务端错误
	if resp, err := client.Get(base + "/boom"); err != nil {
		logger.Error("调用失败", "err", err)
	} else {
		resp.Body.Close()
	}

	// 回调式（resty）
	if _, err := in.Resty(resty.New().SetBaseURL(base)).R().Get("/ok"); err != nil {
		logger.Error("resty 调用失败", "err", err)
	}

	// future 式
	req, _ := http.NewRequest(http.MethodGet, base+"/ok", nil)
	if res := <-in.Go(client, req); res.Err != nil {
		logger.Error("future 调用失败", "err", res.Err)
	} else {
		res.Response.Body.Close()
	}

	logger.Info("演示完成", "live_calls", in.Live())
	if err := metrics.WritePrometheus(os.Stdout); err != nil {
		logger.Warn("输出指标失败", "err", err)
	}
}

// waitReady 轮询本地服务直到可用
func waitReady(logger *log.Logger) {
	for i := 0; i < 50; i++ {
		resp, err := http.Get("http://" + demoAddr + "/ok")
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	logger.Warn("本地服务未就绪，继续执行")
}
