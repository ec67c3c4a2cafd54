package ua

import (
	"maps"

	"github.com/emiago/sipgo/sip"
)

func cloneParams(p sip.HeaderParams) sip.HeaderParams {
	if p == nil {
		return sip.NewParams()
	}
	return maps.Clone(p)
}

func createsDialog(method sip.RequestMethod) bool {
	switch method {
	case sip.INVITE, sip.SUBSCRIBE, sip.REFER:
		return true
	default:
		return false
	}
}

func fromTag(msg interface{ From() *sip.FromHeader }) string {
	if from := msg.From(); from != nil {
		tag, _ := from.Params.Get("tag")
		return tag
	}
	return ""
}

func toTag(msg interface{ To() *sip.ToHeader }) string {
	if to := msg.To(); to != nil {
		tag, _ := to.Params.Get("tag")
		return tag
	}
	return ""
}

func callID(msg interface{ CallID() *sip.CallIDHeader }) string {
	if id := msg.CallID(); id != nil {
		return id.Value()
	}
	return ""
}

func cseqNo(msg interface{ CSeq() *sip.CSeqHeader }) uint32 {
	if cseq := msg.CSeq(); cseq != nil {
		return cseq.SeqNo
	}
	return 0
}
