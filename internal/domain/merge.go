package domain

import "time"

// TimeDiffMode records how the guest/host time offset for a merge was chosen.
type TimeDiffMode string

const (
	TimeDiffExplicit      TimeDiffMode = "explicit"
	TimeDiffGuestBootTime TimeDiffMode = "guest_boot_time"
	TimeDiffDerived       TimeDiffMode = "derived"
)

// Merge sources.
const (
	MergeSourceCLI     = "cli"
	MergeSourceAPI     = "api"
	MergeSourceSession = "session"
)

// MergeRequest describes one guest+host combine.
// GuestBootTimeNs takes precedence over GuestTimeDiffNs; with neither the diff is derived.
type MergeRequest struct {
	GuestFile          string  `json:"guest_file" validate:"required"`
	HostFile           string  `json:"host_file" validate:"required"`
	CombinedFile       string  `json:"combined_file" validate:"required"`
	GuestBootTimeNs    *uint64 `json:"guest_boot_time_ns,omitempty"`
	GuestTimeDiffNs    *uint64 `json:"guest_time_diff_ns,omitempty"`
	GuestTSCOffset     int64   `json:"guest_tsc_offset,omitempty"`
	MergeGuestIntoHost bool    `json:"merge_guest_into_host,omitempty"`
	AddTraces          bool    `json:"add_traces,omitempty"`
	Source             string  `json:"-"`
}

// MergeRecord is the ledger entry written for every combined trace.
type MergeRecord struct {
	MergeID            string       `json:"id" dynamodbav:"merge_id"`
	Source             string       `json:"source" dynamodbav:"source"`
	GuestFile          string       `json:"guest_file" dynamodbav:"guest_file"`
	HostFile           string       `json:"host_file" dynamodbav:"host_file"`
	CombinedFile       string       `json:"combined_file" dynamodbav:"combined_file"`
	GuestBytes         int64        `json:"guest_bytes" dynamodbav:"guest_bytes"`
	HostBytes          int64        `json:"host_bytes" dynamodbav:"host_bytes"`
	CombinedBytes      int64        `json:"combined_bytes" dynamodbav:"combined_bytes"`
	TimeDiffNs         uint64       `json:"time_diff_ns" dynamodbav:"time_diff_ns"`
	TimeDiffMode       TimeDiffMode `json:"time_diff_mode" dynamodbav:"time_diff_mode"`
	GuestTSCOffset     int64        `json:"guest_tsc_offset" dynamodbav:"guest_tsc_offset"`
	MergeGuestIntoHost bool         `json:"merge_guest_into_host" dynamodbav:"merge_guest_into_host"`
	AddTraces          bool         `json:"add_traces" dynamodbav:"add_traces"`
	ObjectKey          string       `json:"object_key,omitempty" dynamodbav:"object_key,omitempty"`
	CreatedAt          time.Time    `json:"created" dynamodbav:"created_at"`
	UpdatedAt          time.Time    `json:"updated" dynamodbav:"updated_at"`
}
