package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/croncatd/croncatd/internal/agentpool"
	"github.com/croncatd/croncatd/internal/bus"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/registry"
	"github.com/croncatd/croncatd/internal/types"
)

func TestScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "end-to-end scenarios")
}

var _ = Describe("S1 single agent, single immediate task", func() {
	It("decrements escrow and reschedules at current+2", func() {
		h := newHarness(GinkgoT())
		cfg := testConfig()
		cfg.MinTasksPerAgent = 3
		cfg.GasBaseFee = 0
		h.clk.SetHeight(12345)
		h.registerAgent(GinkgoT(), addr(1))

		gas := uint64(50_000)
		task := h.createTask(GinkgoT(), cfg, registry.CreateParams{
			Owner:    addr(2),
			Interval: types.Interval{Kind: types.IntervalImmediate},
			Bounds:   types.Bounds{Kind: types.BoundaryHeight},
			Actions: []types.Action{{
				Kind:         types.MessageBankSend,
				Target:       addr(3),
				GasLimit:     &gas,
				NativeAmount: types.NewUint256(5),
			}},
			AttachedNative: types.NewUint256(30_000),
		})

		balBefore, err := h.reg.GetBalance(task.Hash)
		Expect(err).NotTo(HaveOccurred())

		hashes, err := h.idx.Hashes(types.SlotBlock, 12346)
		Expect(err).NotTo(HaveOccurred())
		Expect(hashes).To(ConsistOf(task.Hash))

		h.clk.SetHeight(12346)
		res, err := h.d.ProxyCall(context.Background(), h.clk, cfg, addr(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.TaskRemoved).To(BeFalse())

		balAfter, err := h.reg.GetBalance(task.Hash)
		Expect(err).NotTo(HaveOccurred())
		spent := new(types.Uint256).Sub(balBefore.Native, balAfter.Native)
		Expect(spent.Cmp(types.ZeroUint256())).To(BeNumerically(">", 0))

		rescheduled, err := h.idx.Hashes(types.SlotBlock, 12347)
		Expect(err).NotTo(HaveOccurred())
		Expect(rescheduled).To(ConsistOf(task.Hash))
	})
})

var _ = Describe("S2 nomination ladder", func() {
	It("admits B within one window and C only after two", func() {
		var b bus.Bus
		p := agentpool.New(&b)
		t0 := time.Now()
		cfg := types.Config{MinTasksPerAgent: 1, NominationWindowDuration: 20 * time.Second, MinActiveAgentCount: 1}

		Expect(p.Register(addr(1), addr(1), true, t0)).To(Succeed()) // A -> active
		Expect(p.Register(addr(2), addr(2), true, t0)).To(Succeed()) // B -> pending[0]
		Expect(p.Register(addr(3), addr(3), true, t0)).To(Succeed()) // C -> pending[1]

		// 3 tasks ready, active_count=1, ratio 1:1 -> num_to_admit = 2.
		tPlus19 := t0.Add(19 * time.Second)
		Expect(p.Status(addr(2), tPlus19, cfg, 3)).To(Equal(types.AgentNominated))
		Expect(p.Status(addr(3), tPlus19, cfg, 3)).To(Equal(types.AgentPending))

		Expect(p.CheckIn(addr(3), tPlus19, cfg, 3)).To(MatchError(errs.ErrTryLaterForNomination))
		Expect(p.CheckIn(addr(2), tPlus19, cfg, 3)).To(Succeed())
		Expect(p.ActiveCount()).To(Equal(2))

		tPlus420 := t0.Add(420 * time.Second)
		Expect(p.Status(addr(3), tPlus420, cfg, 3)).To(Equal(types.AgentNominated))
		Expect(p.CheckIn(addr(3), tPlus420, cfg, 3)).To(Succeed())
		Expect(p.ActiveCount()).To(Equal(3))
	})
})

var _ = Describe("S3 front-pop vs back-pop unregister", func() {
	It("scans from the requested end of the pending queue", func() {
		var b bus.Bus
		p := agentpool.New(&b)
		now := time.Now()
		Expect(p.Register(addr(0), addr(0), true, now)).To(Succeed()) // active
		Expect(p.Register(addr(1), addr(1), true, now)).To(Succeed())
		Expect(p.Register(addr(2), addr(2), true, now)).To(Succeed())
		Expect(p.Register(addr(3), addr(3), true, now)).To(Succeed())
		Expect(p.Register(addr(4), addr(4), true, now)).To(Succeed())

		Expect(p.Unregister(addr(2), false)).To(Succeed())
		Expect(p.AgentIDs(1, 10)).To(Equal([]types.Address{addr(1), addr(3), addr(4)}))

		Expect(p.Unregister(addr(3), true)).To(Succeed())
		Expect(p.AgentIDs(1, 10)).To(Equal([]types.Address{addr(1), addr(4)}))

		Expect(p.Unregister(addr(1), false)).To(Succeed())
		Expect(p.AgentIDs(1, 10)).To(Equal([]types.Address{addr(4)}))
	})
})

var _ = Describe("S4 tick eviction respects floor", func() {
	It("evicts the most-behind agent but stops at the floor", func() {
		var b bus.Bus
		p := agentpool.New(&b)
		now := time.Now()
		Expect(p.Register(addr(0), addr(0), true, now)).To(Succeed())
		Expect(p.Register(addr(1), addr(1), true, now)).To(Succeed())
		// Force addr(1) active too (second registrant normally goes pending).
		Expect(p.CheckIn(addr(1), now, types.Config{MinTasksPerAgent: 1, NominationWindowDuration: time.Nanosecond}, 2)).To(Succeed())

		p.UpdateStats(addr(0), types.AgentStats{LastExecutedSlot: 1000})
		p.UpdateStats(addr(1), types.AgentStats{LastExecutedSlot: 999})

		cfg := types.Config{MinActiveAgentCount: 1, EvictionThreshold: 1000}
		kicked := p.Tick(2000, cfg)
		Expect(kicked).To(Equal([]types.Address{addr(1)}))
		Expect(p.ActiveCount()).To(Equal(1))
		Expect(p.IsActive(addr(0))).To(BeTrue())
	})
})

var _ = Describe("S5 evented task with transform", func() {
	It("rewrites the bank-send amount from the query response before dispatch", func() {
		h := newHarness(GinkgoT())
		cfg := testConfig()
		h.registerAgent(GinkgoT(), addr(1))
		h.resp.responses[addr(5)] = json.RawMessage(`{"asset":{"token_output":"1234567890"}}`)

		gas := uint64(100_000)
		task := h.createTask(GinkgoT(), cfg, registry.CreateParams{
			Owner:    addr(2),
			Interval: types.Interval{Kind: types.IntervalOnce},
			Bounds:   types.Bounds{Kind: types.BoundaryHeight},
			Actions: []types.Action{{
				Kind:     types.MessageContractCall,
				Target:   addr(3),
				GasLimit: &gas,
				Payload:  json.RawMessage(`{"bank":{"send":{"amount":[{"amount":"0","denom":"ucroncat"}]}}}`),
			}},
			Queries: []types.Query{{Target: addr(5), Request: json.RawMessage(`{}`), CheckResult: true}},
			Transforms: []types.Transform{{
				ActionIndex: 0, QueryIndex: 0,
				ActionPath: "bank.send.amount[0].amount",
				QueryPath:  "asset.token_output",
			}},
			AttachedNative: types.NewUint256(1_000_000_000),
		})

		got, err := h.reg.GetTask(task.Hash)
		Expect(err).NotTo(HaveOccurred())
		var before map[string]interface{}
		Expect(json.Unmarshal(got.Actions[0].Payload, &before)).To(Succeed())
		beforeAmount := before["bank"].(map[string]interface{})["send"].(map[string]interface{})["amount"].([]interface{})[0].(map[string]interface{})["amount"]
		Expect(beforeAmount).To(Equal("0"))

		res, err := h.d.ProxyCall(context.Background(), h.clk, cfg, addr(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.TaskHash).To(Equal(task.Hash))

		Expect(h.exec.calls).To(HaveLen(1))
		var after map[string]interface{}
		Expect(json.Unmarshal(h.exec.calls[0].Payload, &after)).To(Succeed())
		afterAmount := after["bank"].(map[string]interface{})["send"].(map[string]interface{})["amount"].([]interface{})[0].(map[string]interface{})["amount"]
		Expect(afterAmount).To(Equal("1234567890"))
	})
})

var _ = Describe("S6 duplicate creation rejection", func() {
	It("rejects the second create_task with identical canonical fields", func() {
		h := newHarness(GinkgoT())
		cfg := testConfig()

		params := registry.CreateParams{
			Owner:          addr(2),
			Interval:       types.Interval{Kind: types.IntervalOnce},
			Bounds:         types.Bounds{Kind: types.BoundaryHeight},
			Actions:        []types.Action{{Kind: types.MessageBankSend, Target: addr(3)}},
			AttachedNative: types.NewUint256(1_000_000_000),
		}

		task, _, err := h.reg.CreateTask(h.clk, cfg, "croncat-1", params)
		Expect(err).NotTo(HaveOccurred())
		Expect(task.Hash).NotTo(Equal(types.TaskHash{}))

		_, _, err = h.reg.CreateTask(h.clk, cfg, "croncat-1", params)
		Expect(err).To(MatchError(errs.ErrTaskAlreadyExists))
	})
})
