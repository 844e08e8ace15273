package ffmpeg

import (
	"regexp"
	"strconv"
)

// ffmpeg 诊断输出解析
// 编码器在 stderr 上输出 "Duration: 00:01:23.45"（一次）和
// "time=00:00:12.34"（重复），由此恢复总时长和当前进度。
// 解析逻辑易碎，封装成纯函数便于单独测试和替换。

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	timeRe     = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// ParseDuration extracts the total duration in seconds from a diagnostic line.
func ParseDuration(line string) (float64, bool) {
	return parseClock(durationRe, line)
}

// ParsePosition extracts the current encode position in seconds from a diagnostic line.
func ParsePosition(line string) (float64, bool) {
	return parseClock(timeRe, line)
}

func parseClock(re *regexp.Regexp, line string) (float64, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	hours, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}

	return hours*3600 + minutes*60 + seconds, true
}
