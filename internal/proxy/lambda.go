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

package proxy

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
)

// LambdaFunc is the signature accepted by lambda.Start
type LambdaFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// LambdaHandler adapts the handler to API Gateway proxy events, which is also the
// event shape used by Netlify functions. It never returns an error.
func (h *Handler) LambdaHandler() LambdaFunc {
	return func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		body := event.Body
		if event.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(event.Body)
			if err != nil {
				ierr := newInternalError(fmt.Errorf("failed to decode request body: %w", err))
				h.loggerFrom(ctx).Error(err, "failed to decode base64 request body")
				resp := errorInternal(ierr, h.development)
				h.metrics.observeRequest(outcomeInternalError, resp.StatusCode)
				return toAPIGatewayResponse(resp), nil
			}
			body = string(decoded)
		}

		resp := h.Handle(ctx, InboundRequest{
			HTTPMethod: event.HTTPMethod,
			Body:       body,
		})
		return toAPIGatewayResponse(resp), nil
	}
}

func toAPIGatewayResponse(resp OutboundResponse) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
	}
}
