// Package lexicon implements the Tagger interface with an offline gazetteer.
//
// The tagger emits one token per character, as a Chinese BERT tokenizer
// would, and labels them by longest match against built-in word lists plus
// pattern matchers for device ids and numeric parameters. It needs no model
// and no network, which makes it the default engine and the reference
// backend in tests.
package lexicon

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/nadzzz/homenlu/internal/config"
	"github.com/nadzzz/homenlu/internal/nlu/bio"
	"github.com/nadzzz/homenlu/internal/tagger"
)

// outside marks filler words that must be consumed as a unit but tagged O.
const outside bio.EntityType = ""

var builtinDeviceTypes = []string{
	"空调", "灯", "电灯", "台灯", "吊灯", "灯带", "窗帘", "风扇", "电风扇",
	"电视", "电视机", "加湿器", "空气净化器", "扫地机器人", "热水器",
	"摄像头", "音箱", "插座", "门锁", "冰箱", "洗衣机", "地暖",
}

var builtinLocations = []string{
	"客厅", "卧室", "主卧", "次卧", "书房", "厨房", "餐厅", "卫生间",
	"浴室", "阳台", "玄关", "儿童房", "走廊", "车库", "门口",
}

var builtinActions = []string{
	"打开", "开启", "启动", "开", "关闭", "关掉", "关上", "熄灭", "关",
	"调低", "调高", "调大", "调小", "调到", "调成", "调为", "调整", "调",
	"设为", "设置为", "设置成", "设置", "设定", "变成", "改成",
	"升高", "降低", "增大", "减小",
	"添加", "安装", "新增", "删除", "移除", "去掉", "不要",
	"查询", "查看", "看看", "问问",
	"拉上", "合上", "拉开", "收起", "卷起",
}

var builtinParameters = []string{
	"红色", "橙色", "黄色", "绿色", "蓝色", "紫色", "白色", "暖光", "冷光", "暖白",
	"制冷模式", "制热模式", "除湿模式", "送风模式", "自动模式", "睡眠模式",
	"制冷", "制热", "除湿", "送风", "自动", "静音", "最大", "最小",
}

var fillers = []string{
	"一下", "帮我", "给我", "麻烦", "请", "把", "将", "的", "吧",
	"温度", "亮度", "风速", "音量", "湿度", "模式", "颜色",
}

var relativeQuantities = []string{"一点点", "一点", "一些"}

var numeralRunes = map[rune]struct{}{}

func init() {
	for _, r := range "零〇一二两三四五六七八九十百千0123456789" {
		numeralRunes[r] = struct{}{}
	}
}

// Tagger labels text by dictionary lookup.
type Tagger struct {
	words  map[string]bio.EntityType
	maxLen int
}

// New creates a lexicon tagger with the built-in gazetteer extended by cfg.
func New(cfg config.LexiconConfig) *Tagger {
	t := &Tagger{words: make(map[string]bio.EntityType)}
	add := func(typ bio.EntityType, words ...[]string) {
		for _, list := range words {
			for _, w := range list {
				w = strings.TrimSpace(w)
				if w == "" {
					continue
				}
				t.words[w] = typ
				if n := utf8.RuneCountInString(w); n > t.maxLen {
					t.maxLen = n
				}
			}
		}
	}
	add(outside, fillers)
	add(bio.DeviceType, builtinDeviceTypes, cfg.DeviceTypes)
	add(bio.Location, builtinLocations, cfg.Locations)
	add(bio.Action, builtinActions, cfg.Actions)
	add(bio.Parameter, builtinParameters, relativeQuantities, cfg.Parameters)
	return t
}

// Name returns the backend identifier.
func (t *Tagger) Name() string { return "lexicon" }

// Close is a no-op.
func (t *Tagger) Close() error { return nil }

// Tag labels every character of text.
func (t *Tagger) Tag(ctx context.Context, text string) (*tagger.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil, tagger.ErrEmptyText
	}

	res := &tagger.Result{
		Tokens: make([]string, 0, len(runes)),
		Tags:   make([]string, 0, len(runes)),
	}
	for i := 0; i < len(runes); {
		n, typ := t.match(runes, i)
		for k := 0; k < n; k++ {
			res.Tokens = append(res.Tokens, string(runes[i+k]))
			res.Tags = append(res.Tags, label(typ, k))
		}
		i += n
	}
	return res, nil
}

func label(typ bio.EntityType, offset int) string {
	switch {
	case typ == outside:
		return bio.Outside
	case offset == 0:
		return bio.Begin + string(typ)
	default:
		return bio.Inside + string(typ)
	}
}

// match picks the longest candidate starting at i. On equal length, device
// ids beat numeric parameters, which beat dictionary words. Unmatched
// characters are single O tokens.
func (t *Tagger) match(runes []rune, i int) (int, bio.EntityType) {
	bestLen, bestType := 1, outside
	if n, typ := t.lookup(runes, i); n > 0 {
		bestLen, bestType = n, typ
	}
	if n := numericParameter(runes, i); n > 0 && n >= bestLen {
		bestLen, bestType = n, bio.Parameter
	}
	if n := deviceID(runes, i); n > 0 && n >= bestLen {
		bestLen, bestType = n, bio.DeviceID
	}
	return bestLen, bestType
}

func (t *Tagger) lookup(runes []rune, i int) (int, bio.EntityType) {
	for n := min(t.maxLen, len(runes)-i); n > 0; n-- {
		if typ, ok := t.words[string(runes[i:i+n])]; ok {
			return n, typ
		}
	}
	return 0, outside
}

// numeralRun returns the length of the numeral starting at i, including a
// decimal part written with 点 or '.'.
func numeralRun(runes []rune, i int) int {
	j := i
	for j < len(runes) {
		if _, ok := numeralRunes[runes[j]]; ok {
			j++
			continue
		}
		if (runes[j] == '点' || runes[j] == '.') && j > i && j+1 < len(runes) {
			if _, ok := numeralRunes[runes[j+1]]; ok {
				j++
				continue
			}
		}
		break
	}
	return j - i
}

// numericParameter matches 百分之N, N%, N度/档/格 and bare N.
func numericParameter(runes []rune, i int) int {
	if hasPrefix(runes, i, "百分之") {
		if n := numeralRun(runes, i+3); n > 0 {
			return 3 + n
		}
		return 0
	}
	n := numeralRun(runes, i)
	if n == 0 {
		return 0
	}
	if j := i + n; j < len(runes) && strings.ContainsRune("%％度档格", runes[j]) {
		return n + 1
	}
	return n
}

// deviceID matches 第N(号|个) and N号/N个.
func deviceID(runes []rune, i int) int {
	start := i
	ordinal := false
	if i < len(runes) && runes[i] == '第' {
		ordinal = true
		i++
	}
	n := numeralRun(runes, i)
	if n == 0 {
		return 0
	}
	i += n
	if i < len(runes) && (runes[i] == '号' || runes[i] == '个') {
		return i + 1 - start
	}
	if ordinal {
		return i - start
	}
	return 0
}

func hasPrefix(runes []rune, i int, prefix string) bool {
	for _, r := range prefix {
		if i >= len(runes) || runes[i] != r {
			return false
		}
		i++
	}
	return true
}
