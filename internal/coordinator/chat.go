package coordinator

import (
	"log/slog"

	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
	"github.com/runeforge/server/internal/registry"
)

func (c *Coordinator) handleChat(conn Conn, msg *protocol.Message) {
	var p protocol.ChatPayload
	if err := msg.DecodePayload(&p); err != nil {
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), msg.Seq))
		return
	}
	clean := protocol.SanitizeChat(p.Message)
	if clean == "" {
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, "empty message", msg.Seq))
		return
	}
	room := c.sessionOf(conn.UserID())
	if room == nil {
		conn.Send(protocol.NewError(protocol.CodeGameNotFound, "not in a session", msg.Seq))
		return
	}
	_ = room.Do(func(st *registry.State) {
		if _, ok := st.Seats[conn.UserID()]; !ok {
			conn.Send(protocol.NewError(protocol.CodeGameNotFound, "not seated", msg.Seq))
			return
		}
		out := protocol.New(protocol.TypeChatOut, protocol.ChatOutPayload{
			SessionID: st.Model.ID,
			FromUser:  conn.UserID(),
			Message:   clean,
			Whisper:   p.Target != "",
		})
		if p.Target == "" {
			st.Broadcast(out)
			return
		}
		// Whisper: deliver to the target and echo to the sender.
		if !st.SendTo(p.Target, out) {
			conn.Send(protocol.NewError(protocol.CodeGameNotFound, "recipient is not here", msg.Seq))
			return
		}
		conn.Send(out)
	})
}

func (c *Coordinator) handleCharacterSync(conn Conn, msg *protocol.Message) {
	var p protocol.CharacterSyncPayload
	if err := msg.DecodePayload(&p); err != nil {
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), msg.Seq))
		return
	}

	ctx, cancel := opContext()
	defer cancel()

	char, err := c.ownedCharacter(ctx, conn, p.Character.ID, msg.Seq)
	if char == nil || err != nil {
		return
	}

	// Only the persona fields move; progression stays server-owned.
	char.Name = p.Character.Name
	char.Class = p.Character.Class
	char.Appearance = p.Character.Appearance
	char.Backstory = p.Character.Backstory
	if p.Character.Inventory.EquippedWeapon != char.Inventory.EquippedWeapon {
		if w := p.Character.Inventory.EquippedWeapon; w == "" || ownsWeapon(char.Inventory.Weapons, w) {
			char.Inventory.EquippedWeapon = w
		}
	}

	if err := c.store.UpdateCharacterPersona(ctx, char); err != nil {
		slog.Warn("character sync rejected", "characterID", char.ID, "error", err)
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), msg.Seq))
		return
	}
	conn.Send(protocol.NewResponse(protocol.TypeCharacterSync, protocol.CharacterSyncPayload{
		Character: protocol.CharacterDocFrom(char),
	}, msg.Seq, true))
}

func ownsWeapon(weapons []model.Weapon, id string) bool {
	for _, w := range weapons {
		if w.ID == id {
			return true
		}
	}
	return false
}
