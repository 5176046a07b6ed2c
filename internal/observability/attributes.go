// Package observability provides the service metrics and their attributes.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrSuccess = "success"
	attrType    = "type"
	attrAppType = "app_type"
	attrState   = "state"
	attrFrom    = "from"
	attrTo      = "to"
	attrChannel = "channel"
	attrReason  = "reason"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func typeAttr(expType string) attribute.KeyValue {
	return attribute.String(attrType, expType)
}

func appTypeAttr(appType string) attribute.KeyValue {
	return attribute.String(attrAppType, appType)
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, state)
}

func fromAttr(state string) attribute.KeyValue {
	return attribute.String(attrFrom, state)
}

func toAttr(state string) attribute.KeyValue {
	return attribute.String(attrTo, state)
}

func channelAttr(channel string) attribute.KeyValue {
	return attribute.String(attrChannel, channel)
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String(attrReason, reason)
}

// routeTemplates maps a resource prefix to the placeholders of the
// segments that follow it.
var routeTemplates = []struct {
	prefix       string
	placeholders []string
}{
	{"/v1/expectations/", []string{"{id}"}},
	{"/v1/containers/", []string{"{containerId}"}},
	{"/v1/apps/", []string{"{appId}"}},
	{"/v1/monitors/", []string{"{containerId}", "{monitorId}"}},
}

// normalizePath replaces id segments with placeholders to bound label
// cardinality. Fixed trailing segments such as /restart are kept.
func normalizePath(path string) string {
	for _, rt := range routeTemplates {
		rest, ok := strings.CutPrefix(path, rt.prefix)
		if !ok || rest == "" {
			continue
		}
		// POST /v1/expectations/restart is a collection command.
		if rt.prefix == "/v1/expectations/" && rest == "restart" {
			return path
		}
		segs := strings.Split(rest, "/")
		for i := 0; i < len(segs) && i < len(rt.placeholders); i++ {
			segs[i] = rt.placeholders[i]
		}
		return rt.prefix + strings.Join(segs, "/")
	}
	return path
}
