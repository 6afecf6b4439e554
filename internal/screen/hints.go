package screen

import "strings"

// Desktop is the sentinel the window watcher reports when no regular
// window holds the foreground.
const Desktop = "桌面"

type hintRule struct {
	keywords []string
	hint     string
}

// Ordered: first match wins, so the code rule shadows the browser rule
// for editor windows that mention both.
var hintRules = []hintRule{
	{[]string{"python", "visual studio code"}, "用户似乎正在专注地编写代码或调试项目"},
	{[]string{"word", "notion", "vnote", "obsidian", "wps", "excel", "book"}, "用户正在记录重要文档或进行文字创作"},
	{[]string{"bilibili", "youtube", "netflix", "potplayer"}, "用户正在观看视频休息，气氛很轻松"},
	{[]string{"edge", "chrome", "firefox", "browser"}, "用户正在浏览网页，寻找资料或冲浪"},
	{[]string{"steam", "genshin", "starrail", "honkai", "game"}, "检测到游戏运行中，用户进入了游戏时光"},
}

const defaultHint = "用户正在操作电脑，处理某些事务"

// ContextHint maps a foreground window title to a one-line scene
// description for the perception prompt.
func ContextHint(title string) string {
	t := strings.ToLower(title)
	for _, rule := range hintRules {
		for _, kw := range rule.keywords {
			if strings.Contains(t, kw) {
				return rule.hint
			}
		}
	}
	return defaultHint
}
