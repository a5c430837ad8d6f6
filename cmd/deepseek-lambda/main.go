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

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"k8s.io/klog/v2"

	"github.com/llm-d/deepseek-proxy/internal/config"
	"github.com/llm-d/deepseek-proxy/internal/proxy"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	logger := klog.Background().WithName("deepseek-lambda")

	cfg, err := config.Load("")
	if err != nil {
		logger.Error(err, "Failed to load configuration")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}

	handler := proxy.NewHandler(proxy.Options{
		UpstreamURL: cfg.UpstreamURL,
		Client:      &http.Client{Timeout: cfg.UpstreamTimeout},
		Development: cfg.Development(),
	})
	fn := handler.LambdaHandler()

	lambda.Start(func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return fn(klog.NewContext(ctx, logger), event)
	})
}
