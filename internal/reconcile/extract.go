package reconcile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Status 是步骤的规范状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// File 是步骤附带的文件。
type File struct {
	Name string `json:"name"`
	Data string `json:"data"`
	Type string `json:"type"`
}

// MapStatus 将执行端的状态词汇映射到四种规范状态。
func MapStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "done", "success":
		return StatusSuccess
	case "error", "failed":
		return StatusError
	case "processing", "starting":
		return StatusProcessing
	default:
		return StatusPending
	}
}

// ResolveSubnetName 从 subnet 字段（字符串或含 name / subnet_name 的对象）解析步骤名称，缺失时回退到 name 字段。
func ResolveSubnetName(payload map[string]any) string {
	switch subnet := payload["subnet"].(type) {
	case string:
		if name := strings.TrimSpace(subnet); name != "" {
			return name
		}
	case map[string]any:
		for _, key := range []string{"name", "subnet_name"} {
			if name, ok := subnet[key].(string); ok && strings.TrimSpace(name) != "" {
				return strings.TrimSpace(name)
			}
		}
	}
	if name, ok := payload["name"].(string); ok {
		return strings.TrimSpace(name)
	}
	return ""
}

// ExtractMessage 从 response 字段提取消息：字符串直接使用，含 message 的对象取 message，
// 其它对象序列化为文本，对象本身作为 responseData 返回。
// 没有 response 时依次回退到 message 与 error 字段，responseData 回退到已有的 responseData 字段。
func ExtractMessage(payload map[string]any) (string, map[string]any) {
	switch resp := payload["response"].(type) {
	case string:
		return resp, objectField(payload, "responseData")
	case map[string]any:
		if msg, ok := resp["message"].(string); ok {
			return msg, resp
		}
		return stringify(resp), resp
	case nil:
	default:
		return stringify(resp), objectField(payload, "responseData")
	}

	data := objectField(payload, "responseData")
	if msg, ok := payload["message"].(string); ok && msg != "" {
		return msg, data
	}
	switch e := payload["error"].(type) {
	case string:
		return e, data
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg, data
		}
		return stringify(e), data
	}
	return "", data
}

func objectField(payload map[string]any, key string) map[string]any {
	if obj, ok := payload[key].(map[string]any); ok {
		return obj
	}
	return nil
}

var imageURLPattern = regexp.MustCompile(`(?i)https?://[^\s"'<>()\[\]{}]+?\.(?:png|jpe?g|gif|webp|bmp|svg)(?:\?[^\s"'<>()\[\]{}]*)?`)

// ExtractImageURLs 扫描文本中指向常见图片扩展名的 URL，按首次出现顺序去重。
func ExtractImageURLs(texts ...string) []string {
	seen := map[string]bool{}
	var urls []string
	for _, text := range texts {
		for _, match := range imageURLPattern.FindAllString(text, -1) {
			if !seen[match] {
				seen[match] = true
				urls = append(urls, match)
			}
		}
	}
	return urls
}

// mergeImages 合并已有图片与新提取的图片并去重。
func mergeImages(existing any, extracted []string) []string {
	seen := map[string]bool{}
	out := []string{}
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	switch list := existing.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range list {
			add(s)
		}
	}
	for _, u := range extracted {
		add(u)
	}
	return out
}

// BuildFiles 由 fileData 与 contentType 合成单个文件，文件名取 fileName 或 "{identity}-output.{ext}"。
// 没有内联文件时透传 files 字段。
func BuildFiles(payload map[string]any, identity string) []File {
	data, _ := payload["fileData"].(string)
	contentType, _ := payload["contentType"].(string)
	if data != "" && contentType != "" {
		name, _ := payload["fileName"].(string)
		if name == "" {
			name = fmt.Sprintf("%s-output.%s", identity, extensionFor(contentType))
		}
		return []File{{Name: name, Data: data, Type: contentType}}
	}

	list, ok := payload["files"].([]any)
	if !ok {
		return nil
	}
	var files []File
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := File{}
		f.Name, _ = obj["name"].(string)
		f.Data, _ = obj["data"].(string)
		f.Type, _ = obj["type"].(string)
		files = append(files, f)
	}
	return files
}

func extensionFor(contentType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch mediaType {
	case "text/plain":
		return "txt"
	case "image/jpeg":
		return "jpg"
	case "image/svg+xml":
		return "svg"
	case "text/markdown":
		return "md"
	}
	if idx := strings.LastIndex(mediaType, "/"); idx >= 0 && idx < len(mediaType)-1 {
		return mediaType[idx+1:]
	}
	return "bin"
}

// identityOf 返回事件的身份键：itemID 优先，回退到 id。数字会被格式化为字符串。
func identityOf(payload map[string]any) string {
	for _, key := range []string{"itemID", "id"} {
		if id := scalarString(payload[key]); id != "" {
			return id
		}
	}
	return ""
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}
