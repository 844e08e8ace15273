package stream

import "FeiLiu/model"

// 基准编码配置
const (
	baselineWidth        = 1280
	baselineHeight       = 720
	baselineVideoBitrate = 2000 // kbps
	baselineAudioBitrate = 128  // kbps

	fullHDWidth        = 1920
	fullHDHeight       = 1080
	fullHDVideoBitrate = 4000
)

// ladderRung 客户端限制下调时使用的固定档位
type ladderRung struct {
	width   int
	height  int
	bitrate int
}

// 从低到高排列
var resolutionLadder = []ladderRung{
	{640, 360, 800},
	{854, 480, 1200},
	{1280, 720, 2000},
}

// ResolveProfile 解析一次会话的编码配置
// 规则按固定顺序应用，带宽规则最后生效，因此总是压过更大的
// maxResolution 请求，这个优先级不能改。
func ResolveProfile(media *model.MediaItem, caps model.ClientCapabilities, segmentTime, windowSize int) model.EncodeProfile {
	profile := model.EncodeProfile{
		VideoCodec:   "h264",
		AudioCodec:   "aac",
		Width:        baselineWidth,
		Height:       baselineHeight,
		VideoBitrate: baselineVideoBitrate,
		AudioBitrate: baselineAudioBitrate,
		SegmentTime:  segmentTime,
		WindowSize:   windowSize,
	}

	// 源分辨率规则
	if media.Width > 0 && media.Height > 0 {
		if media.Width <= baselineWidth && media.Height <= baselineHeight {
			// 小于基准时不放大
			profile.Width = media.Width
			profile.Height = media.Height
		} else if media.Height >= fullHDHeight {
			profile.Width = fullHDWidth
			profile.Height = fullHDHeight
			profile.VideoBitrate = fullHDVideoBitrate
		}
	}

	// 客户端最大分辨率：向下取最高的可用档位
	if caps.MaxResolution > 0 && caps.MaxResolution < profile.Height {
		rung := resolutionLadder[0]
		for _, r := range resolutionLadder {
			if r.height <= caps.MaxResolution {
				rung = r
			}
		}
		profile.Width = rung.width
		profile.Height = rung.height
		profile.VideoBitrate = rung.bitrate
	}

	// 带宽规则，最后应用
	if caps.Bandwidth > 0 {
		switch {
		case caps.Bandwidth < 1_000_000:
			profile.Width = 640
			profile.Height = 360
			profile.VideoBitrate = 800
		case caps.Bandwidth < 2_000_000:
			profile.Width = 854
			profile.Height = 480
			profile.VideoBitrate = 1200
		}
	}

	return profile
}
