package main

import (
	"sort"

	"stellarcolony.ai/internal/protocol"
	"stellarcolony.ai/internal/sim/engine"
)

// nextIntents picks what to do after one STATE. It is greedy. With nothing
// affordable it clicks the resource the cheapest structure is priced in.
func nextIntents(s engine.Snapshot) []protocol.IntentMsg {
	var out []protocol.IntentMsg
	intent := func(kind string) protocol.IntentMsg {
		return protocol.IntentMsg{Type: protocol.TypeIntent, ProtocolVersion: protocol.Version, Kind: kind}
	}

	if s.Prestige.Eligible && s.Prestige.PendingBonus >= s.Prestige.Bonus+1 && s.Prestige.PendingBonus >= 2*s.Prestige.Bonus {
		return []protocol.IntentMsg{intent(string(engine.IntentPrestige))}
	}

	if c := s.Contracts; c != nil && len(c.Active) < c.MaxActive {
		for _, k := range c.Available {
			if s.Resources[k.Demand]*2 >= float64(k.Amount) {
				in := intent(string(engine.IntentAcceptContract))
				in.ContractID = k.ID
				out = append(out, in)
				break
			}
		}
	}

	views := offers(s)
	sort.SliceStable(views, func(i, j int) bool { return views[i].cost < views[j].cost })
	for _, v := range views {
		if s.Resources[v.costRes] >= v.cost {
			in := intent(string(engine.IntentPurchase))
			in.Structure = v.key
			out = append(out, in)
			break
		}
	}

	if cur := s.UpgradeCurrency; cur != "" {
		for _, st := range s.Structures {
			if st.Owned > 0 && st.UpgradeCost > 0 && s.Resources[cur] >= st.UpgradeCost {
				in := intent(string(engine.IntentUpgrade))
				in.Structure = st.Key
				out = append(out, in)
				break
			}
		}
	}

	if len(out) == 0 && len(views) > 0 {
		res := views[0].costRes
		if s.ClickPower[res] > 0 {
			in := intent(string(engine.IntentGenerate))
			in.Resource = res
			out = append(out, in)
		}
	}
	return out
}

type offer struct {
	key     string
	cost    float64
	costRes string
}

func offers(s engine.Snapshot) []offer {
	out := make([]offer, 0, len(s.Structures))
	for _, st := range s.Structures {
		out = append(out, offer{key: st.Key, cost: st.Cost, costRes: st.CostRes})
	}
	return out
}
