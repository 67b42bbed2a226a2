package chatsession

// seqVerdict 一条新消息序号的判定结果
type seqVerdict int

const (
	seqInOrder seqVerdict = iota
	seqGap
	seqLate
	seqDuplicate
)

// maxTrackedGap 单次跳号最多登记的缺失序号数
const maxTrackedGap = 1024

// seqTracker 单个群的序号水位。missing 记录跳过但尚未到达的序号，
// 晚到的消息据此与重复投递区分
type seqTracker struct {
	high    int64
	missing map[int64]struct{}
}

func newSeqTracker(high int64) *seqTracker {
	return &seqTracker{high: high, missing: make(map[int64]struct{})}
}

// observe 记录序号；返回判定以及出现跳号时缺失的区间。
// 水位未知（high<0）时第一条消息作为基线
func (t *seqTracker) observe(seq int64) (seqVerdict, int64, int64) {
	switch {
	case t.high < 0:
		t.high = seq
		return seqInOrder, 0, 0
	case seq == t.high+1:
		t.high = seq
		return seqInOrder, 0, 0
	case seq > t.high+1:
		from, to := t.high+1, seq-1
		start := from
		if to-start >= maxTrackedGap {
			start = to - maxTrackedGap + 1
		}
		for s := start; s <= to; s++ {
			t.missing[s] = struct{}{}
		}
		t.high = seq
		return seqGap, from, to
	default:
		if _, ok := t.missing[seq]; ok {
			delete(t.missing, seq)
			return seqLate, 0, 0
		}
		return seqDuplicate, 0, 0
	}
}

// reset 重新加载历史后以服务端为准
func (t *seqTracker) reset(high int64) {
	if high > t.high {
		t.high = high
	}
	t.missing = make(map[int64]struct{})
}

func (t *seqTracker) pending() int {
	return len(t.missing)
}
