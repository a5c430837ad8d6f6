/*
Copyright 2025 IBM.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"context"
	"flag"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/llm-d/deepseek-proxy/internal/config"
	"github.com/llm-d/deepseek-proxy/internal/proxy"
	"github.com/llm-d/deepseek-proxy/internal/signals"
	"github.com/llm-d/deepseek-proxy/internal/tokenizer"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	klog.InitFlags(nil)
	flag.Parse()

	// make sure to flush logs before exiting
	defer klog.Flush()

	ctx := signals.SetupSignalHandler(context.Background())
	logger := klog.FromContext(ctx)

	if err := config.LoadDotEnv(); err != nil {
		logger.Error(err, "Failed to load .env file")
		return
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		logger.Error(err, "Failed to load configuration")
		return
	}
	flags.Apply(cfg)
	logger.Info("configuration loaded",
		"port", cfg.Port,
		"upstreamURL", cfg.UpstreamURL,
		"upstreamTimeout", cfg.UpstreamTimeout,
		"environment", cfg.Environment,
	)

	metrics := proxy.NewMetrics(nil)
	opts := proxy.Options{
		UpstreamURL: cfg.UpstreamURL,
		Client:      &http.Client{Timeout: cfg.UpstreamTimeout},
		Development: cfg.Development(),
		Metrics:     metrics,
	}
	if cfg.CountPromptTokens {
		counter, err := tokenizer.New()
		if err != nil {
			logger.Error(err, "Failed to create prompt token counter")
			return
		}
		opts.Counter = counter
	}

	server := proxy.NewProxy(cfg.Port, proxy.NewHandler(opts), metrics)
	if err := server.Start(ctx); err != nil {
		logger.Error(err, "Failed to start proxy server")
	}
}
