package services

import (
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/premiobox/backend/internal/models"
)

// SettlementService renders requested withdrawals as ISO 20022 pacs.008
// credit transfers for the settlement rail. PIX messages are ISO 20022
// based, so the export is what the clearing side actually consumes.
type SettlementService struct {
	db *sql.DB
}

func NewSettlementService(db *sql.DB) *SettlementService {
	return &SettlementService{db: db}
}

type settlementItem struct {
	withdrawal models.Withdrawal
	payerName  string
}

// ExportSettlementBatch exports pending withdrawals as a pacs.008 batch
// @Summary Export settlement batch
// @Description Render all requested withdrawals as a single pacs.008 message and mark them settled
// @Tags settlements
// @Produce json
// @Success 200 {object} object{status=string,messageType=string,count=int,xml=string}
// @Failure 500 {object} ErrorResponse
// @Router /admin/settlements/export [post]
func (s *SettlementService) ExportSettlementBatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to start settlement export", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT w.id, w.user_id, w.amount, w.pix_key, w.pix_key_kind, w.created_at, u.first_name, u.last_name
		FROM withdrawals w
		JOIN users u ON u.id = w.user_id
		WHERE w.status = 'requested'
		ORDER BY w.created_at
		FOR UPDATE OF w`)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to load requested withdrawals: %v", err)
		SendErrorResponse(w, "Failed to load withdrawals", http.StatusInternalServerError, nil)
		return
	}

	items := []settlementItem{}
	for rows.Next() {
		var item settlementItem
		var firstName, lastName string
		if err := rows.Scan(&item.withdrawal.ID, &item.withdrawal.UserID, &item.withdrawal.Amount,
			&item.withdrawal.PixKey, &item.withdrawal.PixKeyKind, &item.withdrawal.CreatedAt,
			&firstName, &lastName); err != nil {
			rows.Close()
			SendErrorResponse(w, "Failed to load withdrawals", http.StatusInternalServerError, nil)
			return
		}
		item.payerName = fmt.Sprintf("%s %s", firstName, lastName)
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to load withdrawals", http.StatusInternalServerError, nil)
		return
	}

	if len(items) == 0 {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "empty",
			"count":  0,
		})
		return
	}

	doc := s.CreatePacs008(items)

	xmlData, err := s.ConvertToXML(doc)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	settledAt := time.Now()
	for _, item := range items {
		if _, err := tx.Exec(`UPDATE withdrawals SET status = 'settled', settled_at = $1 WHERE id = $2`,
			settledAt, item.withdrawal.ID); err != nil {
			log.Printf("[SETTLEMENT] Failed to mark withdrawal %d settled: %v", item.withdrawal.ID, err)
			SendErrorResponse(w, "Failed to mark withdrawals settled", http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[SETTLEMENT] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to complete settlement export", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SETTLEMENT] Exported %d withdrawals as pacs.008", len(items))

	json.NewEncoder(w).Encode(map[string]any{
		"status":      "exported",
		"messageType": "pacs.008.001.08",
		"count":       len(items),
		"xml":         xmlData,
	})
}

// CreatePacs008 builds a pacs.008 FIToFICustomerCreditTransfer covering the
// given withdrawals. Amounts leave the ledger as centavos and enter the
// message as decimal BRL.
func (s *SettlementService) CreatePacs008(items []settlementItem) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	var total int64
	for _, item := range items {
		total += item.withdrawal.Amount
	}

	transfers := make([]pacs_v08.CreditTransferTransaction39, 0, len(items))
	for _, item := range items {
		endToEnd := fmt.Sprintf("WD%d", item.withdrawal.ID)
		transfers = append(transfers, pacs_v08.CreditTransferTransaction39{
			PmtId: pacs_v08.PaymentIdentification7{
				InstrId:    &[]common.Max35Text{common.Max35Text(endToEnd)}[0],
				EndToEndId: common.Max35Text(endToEnd),
				TxId:       &[]common.Max35Text{common.Max35Text(endToEnd)}[0],
			},
			IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("BRL"),
				Value: float64(item.withdrawal.Amount) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			ChrgBr:        "SLEV",
			DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("PREMIOBX")}[0],
				},
			},
			Dbtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text("PremioBox Pagamentos")}[0],
			},
			CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
						MmbId: common.Max35Text(item.withdrawal.PixKeyKind),
					},
				},
			},
			Cdtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text(item.payerName)}[0],
			},
		})
	}

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: common.Max15NumericText(fmt.Sprintf("%d", len(items))),
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("BRL"),
				Value: float64(total) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: transfers,
	}
}

// ConvertToXML converts an ISO20022 document to an XML string
func (s *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
