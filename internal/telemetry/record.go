// Package telemetry holds the device-side pipeline: records, the bounded
// submission buffer, the gateway client and the sampling loop.
package telemetry

// Record is one classified gyroscope sample. Timestamp is Unix seconds.
type Record struct {
	DeviceID  string  `json:"device_id"`
	X         float64 `json:"x_axis"`
	Y         float64 `json:"y_axis"`
	Z         float64 `json:"z_axis"`
	Movement  string  `json:"movement"`
	Timestamp int64   `json:"timestamp"`
}

type IngestRequest struct {
	Records []Record `json:"records"`
}

type IngestResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	RecordsProcessed int    `json:"records_processed"`
	TableName        string `json:"table_name"`
}

// Registration is the gateway's answer to a device registration.
type Registration struct {
	DeviceID  string `json:"device_id"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}
