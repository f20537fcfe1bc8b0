package manifest

type FileInfo struct {
	Path       string `yaml:"path" json:"path"`
	Size       int64  `yaml:"size" json:"size"`
	Blake3Hash string `yaml:"blake3_hash,omitempty" json:"blake3_hash,omitempty"`
}

type SystemInfo struct {
	Hostname string `yaml:"hostname" json:"hostname"`
	OS       string `yaml:"os" json:"os"`
	Kernel   string `yaml:"kernel" json:"kernel"`
}

// Backup describes one finished engine run. It is written next to the backup
// directory it describes.
type Backup struct {
	JobID          string     `yaml:"job_id" json:"job_id"`
	Datetime       int64      `yaml:"datetime" json:"datetime"`
	System         SystemInfo `yaml:"system" json:"system"`
	Source         string     `yaml:"source" json:"source"`
	Destination    string     `yaml:"destination" json:"destination"`
	SourceFiles    int64      `yaml:"source_files" json:"source_files"`
	SourceBytes    int64      `yaml:"source_bytes" json:"source_bytes"`
	DestFiles      int64      `yaml:"dest_files" json:"dest_files"`
	DestBytes      int64      `yaml:"dest_bytes" json:"dest_bytes"`
	ElapsedSeconds float64    `yaml:"elapsed_seconds" json:"elapsed_seconds"`
	Status         string     `yaml:"status" json:"status"`
	Files          []FileInfo `yaml:"files,omitempty" json:"-"`
}
