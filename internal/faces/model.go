package faces

import "time"

type LearnedFace struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"index" json:"key"`
	Name      string    `gorm:"not null;index" json:"name"`
	FileName  string    `gorm:"uniqueIndex;not null" json:"file_name"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	FrameSeq  uint64    `json:"frame_seq"`
	CreatedAt time.Time `json:"created_at"`
}
