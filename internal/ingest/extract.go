package ingest

import "regexp"

var (
	// bracketAddrPattern 匹配 "Name <addr>" 形式中的尖括号地址
	bracketAddrPattern = regexp.MustCompile(`<\s*([^<>\s]+@[^<>\s]+?)\s*>`)
	// bareAddrPattern 匹配裸地址，域名不强制带点（内网域名合法）
	bareAddrPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+`)
)

// ExtractRecipient 从收件人头中提取第一个地址。
//
// 优先取第一个尖括号地址，否则退回第一个裸地址形状的片段；
// 地址原样返回，不做大小写归一化。找不到时返回空串。
func ExtractRecipient(to string) string {
	if match := bracketAddrPattern.FindStringSubmatch(to); match != nil {
		return match[1]
	}
	return bareAddrPattern.FindString(to)
}
