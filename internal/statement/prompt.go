package statement

// extractionPrompt is the fixed instruction sent with every chunk. The
// response must be a bare JSON array so the tolerant parser can locate it
// inside any surrounding prose.
const extractionPrompt = `You are analyzing pages of a bank statement. Extract every debit transaction (money leaving the account) and return them as JSON.

Return ONLY a JSON array in this exact format:
[
  {
    "date": "DD/MM/YYYY",
    "amount": 0.00,
    "recipient": "string"
  }
]

Rules:
- Only include debits; ignore credits, deposits, interest earned, and balance rows
- The date must be in DD/MM/YYYY format
- The amount must be a positive number with no currency symbols
- The recipient is the payee or merchant name shown for the transaction
- If the pages contain no debit transactions, return []
- Do not include any text before or after the JSON array
- Do not use markdown code blocks`
