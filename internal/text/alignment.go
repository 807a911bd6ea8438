// internal/text/alignment.go
package text

import (
	"sort"

	"github.com/Corphon/ClipStudy/internal/models"
)

// AddPair 添加一条原文→译文对应关系
// 序号被夹到 [0, count-1]（count 为 0 时取 0），同一原文序号只保留最新一条，结果按原文序号升序
func AddPair(pairs []models.AlignmentPair, orig, trans, origCount, transCount int) []models.AlignmentPair {
	o := clampIndex(orig, origCount)
	t := clampIndex(trans, transCount)

	out := make([]models.AlignmentPair, 0, len(pairs)+1)
	for _, p := range pairs {
		if p.Orig != o {
			out = append(out, p)
		}
	}
	out = append(out, models.AlignmentPair{Orig: o, Trans: t})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Orig < out[j].Orig })
	return out
}

// RemovePair 删除指定原文序号的对应关系
func RemovePair(pairs []models.AlignmentPair, orig int) []models.AlignmentPair {
	out := make([]models.AlignmentPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Orig != orig {
			out = append(out, p)
		}
	}
	return out
}

// MappedTrans 返回原文句子对应的译文序号；未映射时按同序号对齐
func MappedTrans(pairs []models.AlignmentPair, orig int) int {
	for _, p := range pairs {
		if p.Orig == orig {
			return p.Trans
		}
	}
	return orig
}

// TransIndex 每个原文句子对应的译文序号，按译文句数钳制；没有译文时为 -1
func TransIndex(pairs []models.AlignmentPair, origCount, transCount int) []int {
	out := make([]int, origCount)
	for i := range out {
		if transCount == 0 {
			out[i] = -1
			continue
		}
		out[i] = clampIndex(MappedTrans(pairs, i), transCount)
	}
	return out
}

func clampIndex(i, count int) int {
	if i > count-1 {
		i = count - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
