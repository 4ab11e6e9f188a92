package message

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/field"
	"github.com/wyfcoding/fixengine/tag"
	"github.com/wyfcoding/fixengine/xerrors"
)

func TestFieldMapOrder(t *testing.T) {
	fm := NewFieldMap(tag.Symbol, tag.ClOrdID)
	fm.Set(tag.OrderQty, "100")
	fm.Set(tag.ClOrdID, "A1")
	fm.Set(tag.Price, "12.5")
	fm.Set(tag.Symbol, "IBM")
	assert.Equal(t, []tag.Tag{tag.Symbol, tag.ClOrdID, tag.OrderQty, tag.Price}, fm.Tags())

	// 覆盖不改变位置
	fm.Set(tag.OrderQty, "200")
	assert.Equal(t, []tag.Tag{tag.Symbol, tag.ClOrdID, tag.OrderQty, tag.Price}, fm.Tags())
	assert.Equal(t, 4, fm.Len())

	fm.Remove(tag.ClOrdID)
	assert.False(t, fm.Has(tag.ClOrdID))
	assert.Equal(t, []tag.Tag{tag.Symbol, tag.OrderQty, tag.Price}, fm.Tags())

	// 不在首选顺序中的字段按首次设置的先后排列
	fm.SetOrder(tag.Price)
	assert.Equal(t, []tag.Tag{tag.Price, tag.OrderQty, tag.Symbol}, fm.Tags())
}

func TestFieldMapTypedAccess(t *testing.T) {
	fm := NewFieldMap()
	ts := time.Date(2000, 4, 26, 12, 5, 6, 123000000, time.UTC)
	fm.SetInt(tag.MsgSeqNum, 42)
	fm.SetBool(tag.PossDupFlag, true)
	fm.SetChar(tag.Side, '1')
	fm.SetFloat(tag.OrderQty, 1.5, 2)
	fm.SetDecimal(tag.Price, decimal.RequireFromString("12.25"), 3)
	fm.SetUTCTimestamp(tag.SendingTime, ts, field.Millis)

	n, err := fm.GetInt(tag.MsgSeqNum)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	b, err := fm.GetBool(tag.PossDupFlag)
	require.NoError(t, err)
	assert.True(t, b)
	c, err := fm.GetChar(tag.Side)
	require.NoError(t, err)
	assert.Equal(t, byte('1'), c)
	f, err := fm.GetFloat(tag.OrderQty)
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)
	v, _ := fm.Get(tag.OrderQty)
	assert.Equal(t, "1.50", v)
	d, err := fm.GetDecimal(tag.Price)
	require.NoError(t, err)
	assert.Equal(t, "12.250", field.FormatDecimal(d, 3))
	got, err := fm.GetUTCTimestamp(tag.SendingTime)
	require.NoError(t, err)
	assert.Equal(t, ts, got)

	_, err = fm.GetString(tag.Text)
	require.Error(t, err)
	e, ok := xerrors.FromError(err)
	require.True(t, ok)
	assert.Equal(t, xerrors.ErrNotFound, e.Type)
	assert.Equal(t, enum.RejectRequiredTagMissing, e.Code)
	assert.Equal(t, int(tag.Text), e.RefTag)

	fm.Set(tag.HeartBtInt, "3x")
	_, err = fm.GetInt(tag.HeartBtInt)
	e, ok = xerrors.FromError(err)
	require.True(t, ok)
	assert.Equal(t, xerrors.ErrFieldConversion, e.Type)
	assert.Equal(t, int(tag.HeartBtInt), e.RefTag)
}

func TestRepeatingGroupClone(t *testing.T) {
	tmpl := GroupTemplate{CountTag: tag.NoPartyIDs, Fields: []tag.Tag{tag.PartyID, tag.PartyIDSource, tag.PartyRole}}
	fm := NewFieldMap()
	g := NewRepeatingGroup(tmpl)
	e := g.Add()
	e.Set(tag.PartyRole, "3")
	e.Set(tag.PartyID, "BROKER")
	fm.SetGroup(g)

	assert.Equal(t, []tag.Tag{tag.PartyID, tag.PartyRole}, e.Tags())
	v, ok := fm.Get(tag.NoPartyIDs)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	c := fm.Clone()
	cg, ok := c.Group(tag.NoPartyIDs)
	require.True(t, ok)
	cg.Get(0).Set(tag.PartyID, "OTHER")
	cg.Add().Set(tag.PartyID, "X")

	orig, _ := fm.Group(tag.NoPartyIDs)
	id, _ := orig.Get(0).Get(tag.PartyID)
	assert.Equal(t, "BROKER", id)
	assert.Equal(t, 1, orig.Len())
	assert.Equal(t, 2, cg.Len())
}

func TestSessionID(t *testing.T) {
	id := SessionID{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}
	assert.Equal(t, "FIX.4.4:A->B", id.String())
	id.Qualifier = "q"
	assert.Equal(t, "FIX.4.4:B->A:q", id.Reverse().String())
	assert.True(t, SessionID{}.IsZero())
}
