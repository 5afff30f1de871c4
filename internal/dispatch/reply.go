package dispatch

import (
	"strings"

	"github.com/nadzzz/homenlu/internal/command"
	"github.com/nadzzz/homenlu/internal/nlu"
)

const replyNotUnderstood = "抱歉，我没有理解您的指令。"

// Reply renders a short Chinese confirmation for cmd. Commands that cannot
// be dispatched get the apology sentence.
func Reply(cmd command.ParsedCommand, failed bool) string {
	if failed || cmd.Action == "" {
		return replyNotUnderstood
	}

	target := describeTarget(cmd, "设备")
	switch cmd.Action {
	case command.ActionTurnOn:
		return "好的，正在为您打开" + target + "。"
	case command.ActionTurnOff:
		return "好的，正在为您关闭" + target + "。"
	case command.ActionModify:
		return modifyReply(target, cmd.Parameter)
	case command.ActionQuery:
		return "好的，正在为您查询" + target + "的状态。"
	case command.ActionAdd:
		return "好的，已为您添加" + orDefault(cmd.Parameter, target) + "。"
	case command.ActionDelete:
		return "好的，已为您删除" + orDefault(cmd.Parameter, target) + "。"
	case command.ActionOpenCurtain:
		return "好的，正在为您打开" + describeTarget(cmd, "窗帘") + "。"
	case command.ActionCloseCurtain:
		return "好的，正在为您关闭" + describeTarget(cmd, "窗帘") + "。"
	}
	return replyNotUnderstood
}

func modifyReply(target, param string) string {
	switch {
	case param == "":
		return "好的，正在为您调节" + target + "。"
	case strings.HasPrefix(param, "+"):
		return "好的，已将" + target + "调高" + param[1:] + "。"
	case strings.HasPrefix(param, "-"):
		return "好的，已将" + target + "调低" + param[1:] + "。"
	}
	return "好的，已将" + target + "设置为" + param + "。"
}

// describeTarget renders "客厅的灯（编号3）"-style phrases. Multi-span slots
// are joined with 和. DEVICE_ID is zero-based for ordinals (第二个 is 1), so
// it is shown as a bare 编号 and never as N号.
func describeTarget(cmd command.ParsedCommand, fallback string) string {
	target := strings.ReplaceAll(orDefault(cmd.DeviceType, fallback), nlu.MultiSpanSeparator, "和")
	if cmd.Location != "" {
		target = strings.ReplaceAll(cmd.Location, nlu.MultiSpanSeparator, "和") + "的" + target
	}
	if cmd.HasDeviceID() {
		target += "（编号" + cmd.DeviceID + "）"
	}
	return target
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
