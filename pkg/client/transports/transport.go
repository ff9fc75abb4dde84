// Package transports abstracts the wire protocol used to deliver launches,
// items and log batches to a reporting service.
package transports

import (
	"context"

	"github.com/rzbill/relay/pkg/report"
)

// Parameter is a named test parameter on an item.
type Parameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StartLaunchRequest describes a new launch.
type StartLaunchRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	StartTimeMs int64              `json:"startTime"`
	Mode        report.LaunchMode  `json:"mode,omitempty"`
	Attributes  []report.Attribute `json:"attributes,omitempty"`
	Rerun       bool               `json:"rerun,omitempty"`
	RerunOf     string             `json:"rerunOf,omitempty"`
	UUID        string             `json:"uuid,omitempty"`
}

// FinishLaunchRequest closes a launch.
type FinishLaunchRequest struct {
	LaunchUUID  string             `json:"-"`
	EndTimeMs   int64              `json:"endTime"`
	Status      report.Status      `json:"status,omitempty"`
	Description string             `json:"description,omitempty"`
	Attributes  []report.Attribute `json:"attributes,omitempty"`
}

// StartItemRequest describes a new test item. ParentUUID selects the path:
// empty means a root item under the launch.
type StartItemRequest struct {
	ParentUUID  string             `json:"-"`
	LaunchUUID  string             `json:"launchUuid"`
	Name        string             `json:"name"`
	Type        report.ItemType    `json:"type"`
	Description string             `json:"description,omitempty"`
	StartTimeMs int64              `json:"startTime"`
	Attributes  []report.Attribute `json:"attributes,omitempty"`
	Parameters  []Parameter        `json:"parameters,omitempty"`
	CodeRef     string             `json:"codeRef,omitempty"`
	TestCaseID  string             `json:"testCaseId,omitempty"`
	UUID        string             `json:"uuid,omitempty"`
	Retry       bool               `json:"retry,omitempty"`
	RetryOf     string             `json:"retryOf,omitempty"`
	HasStats    bool               `json:"hasStats"`
}

// FinishItemRequest closes an item.
type FinishItemRequest struct {
	ItemUUID    string             `json:"-"`
	LaunchUUID  string             `json:"launchUuid"`
	EndTimeMs   int64              `json:"endTime"`
	Status      report.Status      `json:"status,omitempty"`
	Description string             `json:"description,omitempty"`
	Attributes  []report.Attribute `json:"attributes,omitempty"`
	Issue       *Issue             `json:"issue,omitempty"`
	Retry       bool               `json:"retry,omitempty"`
	RetryOf     string             `json:"retryOf,omitempty"`
}

// IssueNotIssue is the defect type that excludes an item from defect
// statistics.
const IssueNotIssue = "NOT_ISSUE"

// Issue annotates a failed item with a defect type.
type Issue struct {
	Type    string `json:"issueType"`
	Comment string `json:"comment,omitempty"`
}

// LogEntry is the wire shape of one record inside a log batch. UUIDs are
// resolved before the transport is invoked; File names the multipart
// attachment part, when present.
type LogEntry struct {
	LaunchUUID string   `json:"launchUuid"`
	ItemUUID   string   `json:"itemUuid,omitempty"`
	TimeMs     int64    `json:"time"`
	Level      string   `json:"level"`
	Message    string   `json:"message"`
	File       *LogFile `json:"file,omitempty"`
}

// LogFile references the attachment part carried next to the entry.
type LogFile struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Content     []byte `json:"-"`
}

// ReportTransport abstracts the delivery protocol (HTTP today). Start calls
// return the service-assigned UUID for the created entity.
type ReportTransport interface {
	StartLaunch(ctx context.Context, req StartLaunchRequest) (uuid string, err error)
	FinishLaunch(ctx context.Context, req FinishLaunchRequest) error
	StartItem(ctx context.Context, req StartItemRequest) (uuid string, err error)
	FinishItem(ctx context.Context, req FinishItemRequest) error
	SendLogBatch(ctx context.Context, entries []LogEntry) error
	Close() error
}
