// Package locale holds the widget texts and the {key} templating used to
// build user-facing explain strings.
package locale

import (
	"regexp"
	"strings"

	"verifykit/internal/domain"
)

// Locale identifies a message table.
type Locale string

const (
	ZhCN Locale = "zh-CN"
	EnUS Locale = "en-US"
)

// Default is used when a requested locale is unknown.
const Default = ZhCN

// Text is the message set of one mode. Keys follow the widget props.
type Text map[string]string

var tables = map[Locale]map[domain.Mode]Text{
	ZhCN: {
		domain.ModeSlide:   {"explain": "向右滑动完成验证", "success": "验证成功", "error": "验证失败", "ready": "准备就绪"},
		domain.ModePuzzle:  {"explain": "拖动滑块完成拼图", "success": "验证成功", "error": "验证失败", "ready": "准备就绪"},
		domain.ModePick:    {"explain": "请依次点击【{text}】", "success": "验证成功", "error": "验证失败", "ready": "准备就绪"},
		domain.ModePicture: {"placeholder": "请输入验证码", "refresh": "点击刷新"},
		domain.ModeCompute: {"placeholder": "请输入计算结果", "refresh": "点击刷新", "confirmText": "确认"},
	},
	EnUS: {
		domain.ModeSlide:   {"explain": "Slide to verify", "success": "Success", "error": "Failed", "ready": "Ready"},
		domain.ModePuzzle:  {"explain": "Drag to complete puzzle", "success": "Success", "error": "Failed", "ready": "Ready"},
		domain.ModePick:    {"explain": "Click in order: {text}", "success": "Success", "error": "Failed", "ready": "Ready"},
		domain.ModePicture: {"placeholder": "Enter code", "refresh": "Click to refresh"},
		domain.ModeCompute: {"placeholder": "Enter result", "refresh": "Click to refresh", "confirmText": "Confirm"},
	},
}

// Locales lists the bundled locales.
func Locales() []Locale {
	return []Locale{ZhCN, EnUS}
}

// Parse maps a tag such as "en-us" or "zh_CN" onto a bundled locale.
func Parse(tag string) (Locale, bool) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
	for _, l := range Locales() {
		if strings.ToLower(string(l)) == norm {
			return l, true
		}
	}
	return Default, false
}

// Messages returns the texts of mode in loc with custom overriding bundled
// entries. The result is a fresh map the caller may modify.
func Messages(loc Locale, mode domain.Mode, custom map[string]string) Text {
	table, ok := tables[loc]
	if !ok {
		table = tables[Default]
	}
	out := make(Text, len(table[mode])+len(custom))
	for k, v := range table[mode] {
		out[k] = v
	}
	for k, v := range custom {
		out[k] = v
	}
	return out
}

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// T replaces every {key} in text with params[key]; missing keys become "".
func T(text string, params map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		return params[m[1:len(m)-1]]
	})
}

// PickExplain renders the pick instruction for the labels to click.
func PickExplain(loc Locale, labels []string, custom map[string]string) string {
	sep := ","
	if loc == EnUS {
		sep = ", "
	}
	return T(Messages(loc, domain.ModePick, custom)["explain"], map[string]string{"text": strings.Join(labels, sep)})
}
