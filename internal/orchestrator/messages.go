package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/desiredstate"
	"packagemanager/internal/packageinfo"
)

// Worker message types.
const (
	MessageFetchPackageInfoMetadata  = "fetchPackageInfoMetadata"
	MessageUpdatePackageInfo         = "updatePackageInfo"
	MessageRemovePackageInfo         = "removePackageInfo"
	MessageReportFromMonitorPackages = "reportFromMonitorPackages"
)

// WorkerMessage is a request a worker sends to the package manager.
type WorkerMessage struct {
	Type      string          `json:"type"`
	Arguments json.RawMessage `json:"arguments"`
}

// FetchPackageInfoArgs selects package info metadata.
type FetchPackageInfoArgs struct {
	Type       string   `json:"type"`
	PackageIDs []string `json:"packageIds"`
}

// RemovePackageInfoArgs removes a package info record. A nil RemoveDelay
// uses the configured package info removal delay.
type RemovePackageInfoArgs struct {
	Type        string `json:"type"`
	PackageID   string `json:"packageId"`
	RemoveDelay *int64 `json:"removeDelay,omitempty"` // ms
}

// MonitorPackagesArgs carries the packages a monitor discovered.
type MonitorPackagesArgs struct {
	ContainerID string                         `json:"containerId"`
	MonitorID   string                         `json:"monitorId"`
	Packages    []desiredstate.ExpectedPackage `json:"packages"`
}

// HandleWorkerMessage serves a worker message. The result is nil for
// messages without an answer. Unknown types are unsupported.
func (o *Orchestrator) HandleWorkerMessage(_ context.Context, msg WorkerMessage) (any, error) {
	switch msg.Type {
	case MessageFetchPackageInfoMetadata:
		var args FetchPackageInfoArgs
		if err := decodeArgs(msg, &args); err != nil {
			return nil, err
		}
		if args.Type == "" {
			return nil, apperrors.Validation("type", "is required")
		}
		return o.packageInfo.FetchMetadata(args.Type, args.PackageIDs), nil

	case MessageUpdatePackageInfo:
		var rec packageinfo.Record
		if err := decodeArgs(msg, &rec); err != nil {
			return nil, err
		}
		return nil, o.packageInfo.Update(rec)

	case MessageRemovePackageInfo:
		var args RemovePackageInfoArgs
		if err := decodeArgs(msg, &args); err != nil {
			return nil, err
		}
		if args.Type == "" || args.PackageID == "" {
			return nil, apperrors.Validation("packageId", "type and packageId are required")
		}
		delay := o.cfg.Settings.DelayRemovalPackageInfo
		if args.RemoveDelay != nil {
			delay = time.Duration(*args.RemoveDelay) * time.Millisecond
		}
		o.packageInfo.Remove(args.Type, args.PackageID, delay)
		return nil, nil

	case MessageReportFromMonitorPackages:
		var args MonitorPackagesArgs
		if err := decodeArgs(msg, &args); err != nil {
			return nil, err
		}
		return nil, o.ReportMonitoredPackages(args.ContainerID, args.MonitorID, args.Packages)

	default:
		return nil, apperrors.Unsupported("worker message", msg.Type)
	}
}

func decodeArgs(msg WorkerMessage, v any) error {
	if len(msg.Arguments) == 0 {
		return apperrors.Validation("arguments", "are required for "+msg.Type)
	}
	if err := json.Unmarshal(msg.Arguments, v); err != nil {
		return apperrors.Validation("arguments", err.Error())
	}
	return nil
}
