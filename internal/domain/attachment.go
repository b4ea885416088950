package domain

// Attachment 表示邮件附件的元数据。
//
// 引擎只保留元数据，不落盘附件内容。
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}
